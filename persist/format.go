// Package persist serializes index snapshots so a collection can be reloaded
// without rebuilding. The format preserves ids, vector bytes (little-endian
// float32), record metadata, and the build configuration, and is integrity-
// checked with a CRC32 trailer.
package persist

import (
	"errors"
	"hash"
	"hash/crc32"
	"io"
)

const (
	// MagicNumber identifies mirador snapshot files (ASCII "MIR1").
	MagicNumber = 0x4D495231

	// FormatVersion is the current file format version.
	FormatVersion = 1
)

// Compression selects the body compression codec.
type Compression uint8

const (
	// CompressionNone stores the body uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses the body with zstd (good ratio, fast decode).
	CompressionZstd
	// CompressionLZ4 compresses the body with lz4 (fastest, lighter ratio).
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidMagic is returned when the file does not start with MagicNumber.
	ErrInvalidMagic = errors.New("persist: invalid magic number")

	// ErrInvalidVersion is returned for unsupported format versions.
	ErrInvalidVersion = errors.New("persist: unsupported format version")

	// ErrChecksumMismatch is returned when the CRC32 trailer does not match,
	// indicating storage corruption or a truncated write.
	ErrChecksumMismatch = errors.New("persist: checksum mismatch")

	// ErrInvalidCompression is returned for unknown compression codecs.
	ErrInvalidCompression = errors.New("persist: unknown compression codec")
)

// crc32Table is the IEEE polynomial table. CRC32 detects accidental
// corruption; it is not tamper-proof.
var crc32Table = crc32.MakeTable(crc32.IEEE)

// checksumWriter wraps an io.Writer and keeps a running CRC32.
type checksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, hash: crc32.New(crc32Table)}
}

func (cw *checksumWriter) Write(p []byte) (int, error) {
	if _, err := cw.hash.Write(p); err != nil {
		return 0, err
	}
	return cw.w.Write(p)
}

func (cw *checksumWriter) Sum() uint32 {
	return cw.hash.Sum32()
}
