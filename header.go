package acdat

import "fmt"

// Layout constants for the database header.
//
// The header sits at a fixed absolute offset. Everything before it belongs to
// a preamble the reader does not interpret.
const (
	HeaderOffset = 0x140 // 320
	HeaderSize   = 15*4 + versionMajorSize + 4

	versionMajorSize = 16
	chainPointerSize = 4
)

// DatabaseHeader is the fixed-layout record that describes an archive.
//
// Only BlockSize, FileSize and BTree are interpreted; the remaining fields are
// carried through as read. The value is immutable once parsed.
type DatabaseHeader struct {
	FileType  uint32
	BlockSize uint32 // sector size, including the 4-byte chain pointer
	FileSize  uint32

	DataSet    uint32
	DataSubset uint32

	FreeHead  uint32
	FreeTail  uint32
	FreeCount uint32

	// BTree is the sector offset of the root directory node.
	BTree uint32

	NewLRU uint32
	OldLRU uint32
	UseLRU bool

	MasterMapID       uint32
	EnginePackVersion uint32
	GamePackVersion   uint32
	VersionMajor      [versionMajorSize]byte
	VersionMinor      uint32
}

// ParseHeader reads the database header from src.
//
// Only the size of the source is checked: a header that does not fit fails
// with ErrTruncatedInput. Semantic problems such as a zero block size are left
// to Validate or to the first structure that uses the value.
func ParseHeader(src Source) (*DatabaseHeader, error) {
	buf, err := readAt(src, HeaderOffset, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("read database header: %w", err)
	}

	c := newCursor(buf)
	h := &DatabaseHeader{
		FileType:   c.u32(),
		BlockSize:  c.u32(),
		FileSize:   c.u32(),
		DataSet:    c.u32(),
		DataSubset: c.u32(),
		FreeHead:   c.u32(),
		FreeTail:   c.u32(),
		FreeCount:  c.u32(),
		BTree:      c.u32(),
		NewLRU:     c.u32(),
		OldLRU:     c.u32(),
	}
	h.UseLRU = c.u32() != 0
	h.MasterMapID = c.u32()
	h.EnginePackVersion = c.u32()
	h.GamePackVersion = c.u32()
	copy(h.VersionMajor[:], c.bytes(versionMajorSize))
	h.VersionMinor = c.u32()
	if c.err != nil {
		return nil, fmt.Errorf("read database header: %w", c.err)
	}
	return h, nil
}

// Validate reports whether the header can address an archive of size bytes.
//
// A block must leave room for payload after its chain pointer, and the root
// directory must start inside the archive.
func (h *DatabaseHeader) Validate(size int64) error {
	if h.BlockSize <= chainPointerSize {
		return fmt.Errorf("%w: block size %d leaves no payload", ErrInvalidHeader, h.BlockSize)
	}
	if h.BTree == 0 || int64(h.BTree) >= size {
		return fmt.Errorf("%w: tree root %#x outside archive of %d bytes", ErrInvalidHeader, h.BTree, size)
	}
	return nil
}

// PayloadPerSector returns the number of payload bytes a full sector carries.
func (h *DatabaseHeader) PayloadPerSector() uint32 { return h.BlockSize - chainPointerSize }
