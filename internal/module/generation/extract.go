package generation

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

// The backend wraps its PNG output in a ZIP container most of the time,
// occasionally returns the PNG bare, and has been seen emitting streams
// with a damaged container header. Extract unifies all three shapes behind
// one pure classification pass.

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	// IEND chunk type plus its fixed CRC closes every well-formed PNG.
	pngTrailer = []byte{'I', 'E', 'N', 'D', 0xAE, 0x42, 0x60, 0x82}
	// ZIP local file header signature.
	zipLocalSignature = []byte{'P', 'K', 0x03, 0x04}
)

// ZIP local file header layout (fixed 30-byte prefix).
const (
	zipHeaderLen      = 30
	zipMethodOffset   = 8
	zipCompSizeOffset = 18
	zipNameLenOffset  = 26
	zipExtraLenOffset = 28
	zipMethodStored   = 0
	zipMethodDeflated = 8
)

// NoImageError reports that no recognizable image could be recovered,
// carrying enough of the buffer for the operator to diagnose a backend
// contract change.
type NoImageError struct {
	Size int
	Head []byte
}

func (e *NoImageError) Error() string {
	return fmt.Sprintf("no image signature found in %d-byte response (leading bytes % x)", e.Size, e.Head)
}

// newNoImageError snapshots the diagnostic prefix of the buffer.
func newNoImageError(data []byte) *NoImageError {
	head := data
	if len(head) > 16 {
		head = head[:16]
	}
	return &NoImageError{Size: len(data), Head: append([]byte(nil), head...)}
}

// Extract recovers the image bytes from a backend response container.
// Deterministic and side-effect free: identical input always yields an
// identical result or an identical error.
func Extract(data []byte) ([]byte, error) {
	// Tier 1: the backend sometimes returns the image bare.
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}

	// Tier 2: ZIP local entry wrapping the image.
	if bytes.HasPrefix(data, zipLocalSignature) && len(data) >= zipHeaderLen {
		if img, err := extractZipEntry(data); err == nil {
			return img, nil
		}
		// A damaged or unsupported container still falls through to the
		// signature scan.
	}

	// Tier 3: scan for a PNG anywhere in the stream.
	if img := scanForPNG(data); img != nil {
		return img, nil
	}

	return nil, newNoImageError(data)
}

// extractZipEntry parses the first local file header and slices or
// inflates its payload.
func extractZipEntry(data []byte) ([]byte, error) {
	method := binary.LittleEndian.Uint16(data[zipMethodOffset:])
	compSize := binary.LittleEndian.Uint32(data[zipCompSizeOffset:])
	nameLen := binary.LittleEndian.Uint16(data[zipNameLenOffset:])
	extraLen := binary.LittleEndian.Uint16(data[zipExtraLenOffset:])

	start := zipHeaderLen + int(nameLen) + int(extraLen)
	if start > len(data) {
		return nil, fmt.Errorf("entry payload offset %d beyond buffer of %d bytes", start, len(data))
	}

	end := len(data)
	// A zero size field means the writer streamed the entry; take the rest
	// of the buffer.
	if compSize > 0 && start+int(compSize) <= len(data) {
		end = start + int(compSize)
	}
	payload := data[start:end]
	if len(payload) == 0 {
		return nil, fmt.Errorf("entry has no payload")
	}

	switch method {
	case zipMethodStored:
		return payload, nil
	case zipMethodDeflated:
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("inflate entry: %w", err)
		}
		return inflated, nil
	default:
		return nil, fmt.Errorf("unsupported compression method %d", method)
	}
}

// scanForPNG finds a PNG signature anywhere in the buffer and returns the
// slice through the IEND trailer, or to the end of the buffer when the
// trailer is missing.
func scanForPNG(data []byte) []byte {
	start := bytes.Index(data, pngSignature)
	if start < 0 {
		return nil
	}

	if end := bytes.Index(data[start:], pngTrailer); end >= 0 {
		return data[start : start+end+len(pngTrailer)]
	}
	return data[start:]
}
