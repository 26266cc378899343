package acdat

import (
	"fmt"
	"strconv"

	farm "github.com/dgryski/go-farm"
)

// Asset forms with a known layout. Both share the same field order; the
// distinction is carried through for the image assembler.
const (
	FormIcon      uint32 = 6
	FormIconAlpha uint32 = 10
)

const (
	assetPreambleSize = 3 * 4 // two reserved words and the form
	assetDimsSize     = 4 * 4 // width, height, format, length
)

// AssetPayload is a decoded image payload.
//
// Bytes holds exactly Length bytes. Format and Form are not interpreted here.
// Payloads handed out by an Archive may be shared between callers and must
// not be modified.
type AssetPayload struct {
	Offset uint32
	Form   uint32
	Width  uint32
	Height uint32
	Format uint32
	Length uint32
	Bytes  []byte
}

// Subtype reports SubtypeIcon for 32x32 payloads.
func (p *AssetPayload) Subtype() Subtype {
	if p.Width == IconSize && p.Height == IconSize {
		return SubtypeIcon
	}
	return SubtypeUnknown
}

// Fingerprint returns a stable 64-bit farmhash of the payload bytes.
func (p *AssetPayload) Fingerprint() uint64 { return farm.Fingerprint64(p.Bytes) }

// DecodeAsset decodes the payload that starts at offset.
//
// The payload opens with two reserved words and a form discriminant. Forms 6
// and 10 continue with width, height, format and length, followed by length
// raw bytes. Any other form fails with *UnsupportedFormError; a payload that
// runs past the end of src fails with ErrTruncatedInput.
func DecodeAsset(src Source, offset uint32) (*AssetPayload, error) {
	pre, err := readAt(src, int64(offset), assetPreambleSize)
	if err != nil {
		return nil, fmt.Errorf("asset at %#x: %w", offset, err)
	}
	c := newCursor(pre)
	_ = c.u32()
	_ = c.u32()
	form := c.u32()

	switch form {
	case FormIcon, FormIconAlpha:
	default:
		return nil, &UnsupportedFormError{Offset: offset, Form: form}
	}

	dimsOff := int64(offset) + assetPreambleSize
	dims, err := readAt(src, dimsOff, assetDimsSize)
	if err != nil {
		return nil, fmt.Errorf("asset at %#x: %w", offset, err)
	}
	c = newCursor(dims)
	p := &AssetPayload{
		Offset: offset,
		Form:   form,
		Width:  c.u32(),
		Height: c.u32(),
		Format: c.u32(),
		Length: c.u32(),
	}

	p.Bytes, err = readAt(src, dimsOff+assetDimsSize, int(p.Length))
	if err != nil {
		return nil, fmt.Errorf("asset at %#x: pixel data: %w", offset, err)
	}
	assetsDecoded.WithLabelValues(strconv.FormatUint(uint64(form), 10)).Inc()
	return p, nil
}
