package generation

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePNG builds a minimal buffer carrying the PNG signature and trailer
// around arbitrary chunk bytes.
func fakePNG(body []byte) []byte {
	buf := append([]byte(nil), pngSignature...)
	buf = append(buf, body...)
	return append(buf, pngTrailer...)
}

// zipEntry builds a single ZIP local entry with the given name and extra
// field lengths. compSize of -1 writes a zero size field.
func zipEntry(method uint16, nameLen, extraLen int, payload []byte, compSize int) []byte {
	header := make([]byte, zipHeaderLen)
	copy(header, zipLocalSignature)
	binary.LittleEndian.PutUint16(header[zipMethodOffset:], method)
	if compSize >= 0 {
		binary.LittleEndian.PutUint32(header[zipCompSizeOffset:], uint32(compSize))
	}
	binary.LittleEndian.PutUint16(header[zipNameLenOffset:], uint16(nameLen))
	binary.LittleEndian.PutUint16(header[zipExtraLenOffset:], uint16(extraLen))

	buf := append(header, bytes.Repeat([]byte{'n'}, nameLen)...)
	buf = append(buf, bytes.Repeat([]byte{'e'}, extraLen)...)
	return append(buf, payload...)
}

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtract_RawImagePassthrough(t *testing.T) {
	img := fakePNG([]byte("chunk data"))

	got, err := Extract(img)
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestExtract_StoredEntry(t *testing.T) {
	img := fakePNG([]byte("payload"))

	tests := []struct {
		name     string
		nameLen  int
		extraLen int
	}{
		{"no name no extra", 0, 0},
		{"name only", 9, 0},
		{"extra only", 0, 12},
		{"name and extra", 17, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := zipEntry(zipMethodStored, tt.nameLen, tt.extraLen, img, len(img))

			got, err := Extract(buf)
			require.NoError(t, err)
			assert.Equal(t, img, got)
		})
	}
}

func TestExtract_StoredEntryZeroSizeField(t *testing.T) {
	// Streamed entries leave the size field zero; the payload runs to the
	// end of the buffer.
	img := fakePNG([]byte("streamed"))
	buf := zipEntry(zipMethodStored, 5, 0, img, -1)

	got, err := Extract(buf)
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestExtract_StoredEntryWithTrailingRecords(t *testing.T) {
	// A real archive carries central directory records after the entry;
	// the size field keeps them out of the extracted image.
	img := fakePNG([]byte("img"))
	buf := zipEntry(zipMethodStored, 7, 0, img, len(img))
	buf = append(buf, []byte("PK\x01\x02 central directory bytes")...)

	got, err := Extract(buf)
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestExtract_DeflatedEntry(t *testing.T) {
	img := fakePNG([]byte("compress me please, repetition repetition repetition"))
	compressed := deflateBytes(t, img)
	buf := zipEntry(zipMethodDeflated, 9, 3, compressed, len(compressed))

	got, err := Extract(buf)
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestExtract_ScanFallback(t *testing.T) {
	t.Run("png embedded in garbage", func(t *testing.T) {
		img := fakePNG([]byte("embedded"))
		buf := append([]byte("some junk prefix"), img...)
		buf = append(buf, []byte("trailing junk")...)

		got, err := Extract(buf)
		require.NoError(t, err)
		assert.Equal(t, img, got)
	})

	t.Run("png without trailer runs to end of buffer", func(t *testing.T) {
		buf := append([]byte("junk"), pngSignature...)
		buf = append(buf, []byte("truncated image data")...)

		got, err := Extract(buf)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(got, pngSignature))
		assert.Equal(t, buf[4:], got)
	})

	t.Run("zip header with unsupported method falls back to scan", func(t *testing.T) {
		img := fakePNG([]byte("bzip would be odd"))
		buf := zipEntry(99, 0, 0, img, len(img))

		got, err := Extract(buf)
		require.NoError(t, err)
		assert.Equal(t, img, got)
	})
}

func TestExtract_NoImageFound(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty buffer", nil},
		{"random bytes", []byte("definitely not an image at all")},
		{"zip entry without image payload", zipEntry(zipMethodStored, 0, 0, nil, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.data)
			require.Error(t, err)

			var noImg *NoImageError
			require.ErrorAs(t, err, &noImg)
			assert.Equal(t, len(tt.data), noImg.Size)
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	img := fakePNG([]byte("same in, same out"))
	buf := zipEntry(zipMethodStored, 3, 3, img, len(img))

	first, err1 := Extract(buf)
	second, err2 := Extract(buf)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)

	_, errA := Extract([]byte("garbage"))
	_, errB := Extract([]byte("garbage"))
	assert.Equal(t, errA.Error(), errB.Error())
}
