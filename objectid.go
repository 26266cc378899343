package acdat

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectID is the primary key of a file record. It is unique across the
// directory tree of one archive.
type ObjectID uint32

const (
	// TextureBase is the first id of the texture range. Ids below
	// relativeLimit given to ParseObjectID are taken relative to it.
	TextureBase ObjectID = 0x06000000

	// IterationID is the reserved id of the archive's iteration file.
	IterationID ObjectID = 0xFFFF0001

	typeMask      = 0x7F000000
	relativeLimit = 0x01000000
)

// ParseObjectID converts a decimal or 0x-prefixed hexadecimal string to an
// ObjectID.
//
// Values below 0x01000000 are treated as relative to TextureBase, so
// "0x6957", "0x06006957", "26967" and "100690263" all name the same texture.
// An error is returned for empty input, bad digits, or values that do not
// fit in 32 bits.
func ParseObjectID(s string) (ObjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty object id")
	}

	var (
		v   uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err = strconv.ParseUint(rest, 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q: %w", s, err)
	}

	id := ObjectID(v)
	if id < relativeLimit {
		id += TextureBase
	}
	return id, nil
}

// String returns the canonical 0x-prefixed, zero-padded hexadecimal form.
func (id ObjectID) String() string { return fmt.Sprintf("0x%08X", uint32(id)) }

// Type classifies the id by the range it falls in.
func (id ObjectID) Type() FileType {
	switch {
	case id == IterationID:
		return FileTypeIteration
	case uint32(id)&typeMask == uint32(TextureBase):
		return FileTypeTexture
	default:
		return FileTypeUnknown
	}
}

// FileType enumerates the id ranges the reader recognizes.
//
// The zero value, FileTypeUnknown, covers every range without a decoder.
type FileType uint32

const (
	FileTypeUnknown FileType = iota
	FileTypeTexture
	FileTypeIteration
)

var fileTypeNames = map[FileType]string{
	FileTypeUnknown:   "unknown",
	FileTypeTexture:   "texture",
	FileTypeIteration: "iteration",
}

func (t FileType) String() string { return fileTypeNames[t] }

// FileTypes lists every FileType in declaration order.
func FileTypes() []FileType { return []FileType{FileTypeUnknown, FileTypeTexture, FileTypeIteration} }

// ParseFileType returns the FileType whose name is s.
func ParseFileType(s string) (FileType, error) {
	for t, name := range fileTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return FileTypeUnknown, fmt.Errorf("unknown file type %q", s)
}

// Subtype refines a FileType once the payload has been decoded.
type Subtype uint32

const (
	SubtypeUnknown Subtype = iota
	SubtypeIcon
)

var subtypeNames = map[Subtype]string{
	SubtypeUnknown: "unknown",
	SubtypeIcon:    "icon",
}

func (s Subtype) String() string { return subtypeNames[s] }

// IconSize is the edge length, in pixels, of an icon texture.
const IconSize = 32
