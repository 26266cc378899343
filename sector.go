// sector.go
//
// Logical record assembly from chained sectors.
// Every physical sector starts with a 4-byte little-endian pointer to the next
// sector of the same chain. A full sector contributes blockSize-4 payload bytes
// after its pointer. Once fewer than blockSize bytes remain, the reader takes
// exactly the remaining bytes after the current sector's pointer and stops;
// that pointer is never followed.

package acdat

import (
	"encoding/binary"
	"fmt"
)

// ReadSectorChain assembles logicalSize bytes from the sector chain that
// starts at start.
//
// Error semantics:
//   - ErrTruncatedInput when the source ends before logicalSize bytes are
//     assembled. No partially filled buffer is ever returned.
//   - ErrInvalidChain when a continuation pointer that must be followed is
//     zero or lies outside the source.
//   - ErrInvalidHeader when blockSize leaves no room for payload.
func ReadSectorChain(src Source, start, logicalSize, blockSize uint32) ([]byte, error) {
	buf := make([]byte, logicalSize)
	if _, err := readChain(src, start, buf, blockSize); err != nil {
		return nil, err
	}
	return buf, nil
}

// readChain fills dst from the chain at start and returns the number of
// sectors visited.
func readChain(src Source, start uint32, dst []byte, blockSize uint32) (int, error) {
	if blockSize <= chainPointerSize {
		return 0, fmt.Errorf("%w: block size %d", ErrInvalidHeader, blockSize)
	}
	payload := int(blockSize - chainPointerSize)
	size := src.Size()

	var ptr [chainPointerSize]byte
	pos := int64(start)
	if err := readFullAt(src, pos, ptr[:]); err != nil {
		return 0, fmt.Errorf("sector %#x: %w", pos, err)
	}
	next := binary.LittleEndian.Uint32(ptr[:])
	pos += chainPointerSize
	sectors := 1

	for written := 0; written < len(dst); {
		remaining := len(dst) - written
		if remaining < int(blockSize) {
			if err := readFullAt(src, pos, dst[written:]); err != nil {
				return sectors, fmt.Errorf("sector %#x: %w", pos-chainPointerSize, err)
			}
			break
		}

		if err := readFullAt(src, pos, dst[written:written+payload]); err != nil {
			return sectors, fmt.Errorf("sector %#x: %w", pos-chainPointerSize, err)
		}
		written += payload

		// More data is required, so the pointer has to lead somewhere real.
		if next == 0 || int64(next)+chainPointerSize > size {
			return sectors, fmt.Errorf("%w: next sector %#x after %#x (archive is %d bytes)",
				ErrInvalidChain, next, pos-chainPointerSize, size)
		}
		pos = int64(next)
		if err := readFullAt(src, pos, ptr[:]); err != nil {
			return sectors, fmt.Errorf("sector %#x: %w", pos, err)
		}
		next = binary.LittleEndian.Uint32(ptr[:])
		pos += chainPointerSize
		sectors++
	}
	return sectors, nil
}
