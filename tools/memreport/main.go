// Command memreport turns a raw UEFIBootInfo.memory_bitmap dump
// (extracted from a running QEMU session, one bit per 4 KiB frame) into
// a pprof-style profile of frame-pool fragmentation: each run of
// contiguous free or used frames becomes a sample, so `pprof -top` or
// `pprof -web` on the output shows which run lengths dominate the pool.
// Host-side tooling only; github.com/google/pprof's profile encoder has
// no freestanding equivalent.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/google/pprof/profile"
)

const pageSize = 4096

func main() {
	var (
		path = flag.String("bitmap", "", "path to a raw memory_bitmap dump")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("memreport: -bitmap is required")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("memreport: read %s: %v", *path, err)
	}

	runs := fragmentationRuns(data)

	freeFn := &profile.Function{ID: 1, Name: "free_run"}
	usedFn := &profile.Function{ID: 2, Name: "used_run"}
	freeLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: freeFn}}}
	usedLoc := &profile.Location{ID: 2, Line: []profile.Line{{Function: usedFn}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "frames", Unit: "count"}},
		Function:   []*profile.Function{freeFn, usedFn},
		Location:   []*profile.Location{freeLoc, usedLoc},
	}

	for _, r := range runs {
		loc := usedLoc
		if r.free {
			loc = freeLoc
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(r.frames)},
		})
	}

	if err := p.Write(os.Stdout); err != nil {
		log.Fatalf("memreport: write profile: %v", err)
	}
}

type run struct {
	free   bool
	frames int
}

// fragmentationRuns walks the bitmap (one bit per frame, little-endian
// within each byte, matching kernel/mem/pmm's own encoding) and collapses
// consecutive same-state bits into runs.
func fragmentationRuns(bitmap []byte) []run {
	var runs []run
	var cur run
	first := true

	for byteIdx, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			free := b&(1<<uint(bit)) == 0
			if first {
				cur = run{free: free, frames: 1}
				first = false
				continue
			}
			if free == cur.free {
				cur.frames++
				continue
			}
			runs = append(runs, cur)
			cur = run{free: free, frames: 1}
		}
		_ = byteIdx
	}
	if !first {
		runs = append(runs, cur)
	}
	return runs
}
