// Command disasm disassembles a range of a built kernel ELF's .text
// section, for print-the-faulting-instruction-bytes style debugging
// during bring-up (a page-fault handler has an address, not a mnemonic).
// It is host-side developer tooling, not kernel code: it links
// debug/elf and golang.org/x/arch/x86/x86asm, neither of which can be
// linked into a freestanding GOOS=none binary.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/arch/x86/x86asm"
)

func main() {
	var (
		path   = flag.String("elf", "", "path to the built kernel ELF image")
		offset = flag.Uint64("offset", 0, "virtual address to start disassembling from")
		count  = flag.Int("count", 16, "number of instructions to decode")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("disasm: -elf is required")
	}

	f, err := elf.Open(*path)
	if err != nil {
		log.Fatalf("disasm: open %s: %v", *path, err)
	}
	defer f.Close()

	text := f.Section(".text")
	if text == nil {
		log.Fatal("disasm: no .text section in image")
	}
	data, err := text.Data()
	if err != nil {
		log.Fatalf("disasm: read .text: %v", err)
	}

	if *offset < text.Addr || *offset >= text.Addr+uint64(len(data)) {
		log.Fatalf("disasm: offset %#x outside .text range [%#x, %#x)", *offset, text.Addr, text.Addr+uint64(len(data)))
	}

	pos := *offset - text.Addr
	for i := 0; i < *count && int(pos) < len(data); i++ {
		inst, err := x86asm.Decode(data[pos:], 64)
		if err != nil {
			fmt.Printf("%#016x\t<bad instruction: %v>\n", text.Addr+pos, err)
			pos++
			continue
		}
		fmt.Printf("%#016x\t%s\n", text.Addr+pos, x86asm.GNUSyntax(inst, text.Addr+pos, nil))
		pos += uint64(inst.Len)
	}

	os.Exit(0)
}
