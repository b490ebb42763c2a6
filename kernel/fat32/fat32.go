// Package fat32 implements read-only FAT32 cluster-chain traversal over
// a disk image. It is a hosted library, not part of the kernel's own
// boot path — the loader reads the kernel image through UEFI's
// SimpleFileSystem protocol directly and never links this package, and
// no other package in this tree imports it either. Because it only ever runs
// hosted, under a real go test/go run process, it uses the ordinary Go
// allocator freely, unlike the rest of this tree.
package fat32

import (
	"errors"
	"io"
	"strings"
)

const (
	sectorSize  = 512
	dirEntrySize = 32
	endOfChain   = 0x0FFFFFF8
)

var (
	ErrNotFound   = errors.New("fat32: path not found")
	ErrNotADir    = errors.New("fat32: not a directory")
	ErrBadBootSector = errors.New("fat32: malformed boot sector")
)

// FileSystem reads a read-only view of a FAT32 volume out of r, which
// must support random-access reads of sectorSize-aligned ranges (a disk
// image file opened with os.Open satisfies this).
type FileSystem struct {
	r io.ReaderAt

	bytesPerSector   uint16
	sectorsPerCluster uint8
	fatCount         uint8
	sectorsPerFat    uint32
	rootCluster      uint32
	fatStartLBA      uint32
	dataStartLBA     uint32
}

// Kind distinguishes a regular file from a directory.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// DirEntry describes one file or subdirectory discovered by ReadDir.
type DirEntry struct {
	Name         string
	Kind         Kind
	StartCluster uint32
	Size         uint32
}

// Open parses the FAT32 BIOS Parameter Block out of r's first sector.
func Open(r io.ReaderAt) (*FileSystem, error) {
	var sector [sectorSize]byte
	if _, err := r.ReadAt(sector[:], 0); err != nil {
		return nil, err
	}

	fs := &FileSystem{
		r:                 r,
		bytesPerSector:    le16(sector[11:13]),
		sectorsPerCluster: sector[13],
		fatCount:          sector[16],
		sectorsPerFat:     le32(sector[36:40]),
		rootCluster:       le32(sector[44:48]),
	}
	if fs.bytesPerSector == 0 || fs.sectorsPerCluster == 0 {
		return nil, ErrBadBootSector
	}

	reservedSectors := le16(sector[14:16])
	fs.fatStartLBA = uint32(reservedSectors)
	fs.dataStartLBA = fs.fatStartLBA + uint32(fs.fatCount)*fs.sectorsPerFat
	return fs, nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (fs *FileSystem) readSector(lba uint32) ([]byte, error) {
	buf := make([]byte, fs.bytesPerSector)
	_, err := fs.r.ReadAt(buf, int64(lba)*int64(fs.bytesPerSector))
	return buf, err
}

func (fs *FileSystem) clusterToLBA(cluster uint32) uint32 {
	return fs.dataStartLBA + (cluster-2)*uint32(fs.sectorsPerCluster)
}

func (fs *FileSystem) readCluster(cluster uint32) ([]byte, error) {
	lba := fs.clusterToLBA(cluster)
	buf := make([]byte, int(fs.bytesPerSector)*int(fs.sectorsPerCluster))
	for i := 0; i < int(fs.sectorsPerCluster); i++ {
		sector, err := fs.readSector(lba + uint32(i))
		if err != nil {
			return nil, err
		}
		copy(buf[i*int(fs.bytesPerSector):], sector)
	}
	return buf, nil
}

func (fs *FileSystem) readFATEntry(cluster uint32) (uint32, error) {
	fatOffset := cluster * 4
	fatSector := fs.fatStartLBA + fatOffset/uint32(fs.bytesPerSector)
	offsetInSector := fatOffset % uint32(fs.bytesPerSector)

	sector, err := fs.readSector(fatSector)
	if err != nil {
		return 0, err
	}
	return le32(sector[offsetInSector:offsetInSector+4]) & 0x0FFFFFFF, nil
}

// ReadClusterChain concatenates every cluster in the chain starting at
// startCluster, following the FAT until an end-of-chain marker.
func (fs *FileSystem) ReadClusterChain(startCluster uint32) ([]byte, error) {
	var data []byte
	cluster := startCluster
	for {
		clusterData, err := fs.readCluster(cluster)
		if err != nil {
			return nil, err
		}
		data = append(data, clusterData...)

		next, err := fs.readFATEntry(cluster)
		if err != nil {
			return nil, err
		}
		if next >= endOfChain {
			break
		}
		cluster = next
	}
	return data, nil
}

// ReadDir lists the entries of the directory starting at startCluster,
// assembling VFAT long-file-name fragments when present.
func (fs *FileSystem) ReadDir(startCluster uint32) ([]DirEntry, error) {
	raw, err := fs.ReadClusterChain(startCluster)
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	var lfnParts []string

	for i := 0; i+dirEntrySize <= len(raw); i += dirEntrySize {
		entry := raw[i : i+dirEntrySize]
		if entry[0] == 0x00 {
			break
		}
		if entry[11] == 0xE5 {
			continue
		}
		if entry[11] == 0x0F {
			lfnParts = append([]string{decodeLFNFragment(entry)}, lfnParts...)
			continue
		}

		name := strings.Join(lfnParts, "")
		lfnParts = nil
		if name == "" {
			name = shortName(entry)
		}

		attr := entry[11]
		kind := KindFile
		if attr&0x10 != 0 {
			kind = KindDirectory
		}

		clusterLo := uint32(le16(entry[26:28]))
		clusterHi := uint32(le16(entry[20:22]))
		entries = append(entries, DirEntry{
			Name:         name,
			Kind:         kind,
			StartCluster: (clusterHi << 16) | clusterLo,
			Size:         le32(entry[28:32]),
		})
	}

	return entries, nil
}

func shortName(entry []byte) string {
	name := strings.TrimRight(string(entry[0:8]), " ")
	ext := strings.TrimRight(string(entry[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func decodeLFNFragment(entry []byte) string {
	var runes []rune
	for _, r := range [][2]int{{1, 10}, {14, 12}, {28, 4}} {
		for o := r[0]; o < r[0]+r[1]; o += 2 {
			code := le16(entry[o : o+2])
			if code == 0x0000 || code == 0xFFFF {
				continue
			}
			runes = append(runes, rune(code))
		}
	}
	return string(runes)
}

// Lookup resolves a slash-separated path from the root directory,
// returning the matching DirEntry.
func (fs *FileSystem) Lookup(path string) (DirEntry, error) {
	if path == "/" || path == "" {
		return DirEntry{Name: "/", Kind: KindDirectory, StartCluster: fs.rootCluster}, nil
	}

	current := DirEntry{Kind: KindDirectory, StartCluster: fs.rootCluster}
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if current.Kind != KindDirectory {
			return DirEntry{}, ErrNotADir
		}
		children, err := fs.ReadDir(current.StartCluster)
		if err != nil {
			return DirEntry{}, err
		}

		found := false
		for _, c := range children {
			if strings.EqualFold(c.Name, part) {
				current = c
				found = true
				break
			}
		}
		if !found {
			return DirEntry{}, ErrNotFound
		}
	}
	return current, nil
}

// ReadFile reads the full contents of a regular file entry.
func (fs *FileSystem) ReadFile(entry DirEntry) ([]byte, error) {
	if entry.Kind != KindFile {
		return nil, ErrNotADir
	}
	data, err := fs.ReadClusterChain(entry.StartCluster)
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) > entry.Size {
		data = data[:entry.Size]
	}
	return data, nil
}
