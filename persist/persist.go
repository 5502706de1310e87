package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/miradorlabs/mirador/blobstore"
	"github.com/miradorlabs/mirador/codec"
	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/index/flat"
	"github.com/miradorlabs/mirador/index/ivf"
	"github.com/miradorlabs/mirador/store"
)

// Options configures serialization.
type Options struct {
	// Compression selects the body codec. Default: zstd.
	Compression Compression

	// Codec encodes the metadata section. Default: codec.Default.
	Codec codec.Codec
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	Compression: CompressionZstd,
}

// Encode writes the snapshot and optional record metadata to w.
func Encode(w io.Writer, snap index.Snapshot, meta map[string]store.Metadata, optFns ...func(*Options)) error {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}

	var ids []string
	var vectors, centroids []float32
	var assignments []uint32
	var probeCount int
	var seed int64

	switch s := snap.(type) {
	case *flat.Snapshot:
		ids, vectors = s.IDs(), s.Vectors()
	case *ivf.Snapshot:
		ids, vectors = s.IDs(), s.Vectors()
		centroids = s.Centroids()
		assignments = s.Assignments()
		probeCount = s.ProbeCount()
		seed = s.Seed()
	default:
		return fmt.Errorf("persist: unsupported snapshot type %T", snap)
	}

	cw := newChecksumWriter(w)

	// Header, uncompressed.
	if err := writeHeader(cw, snap, opts, c.Name(), len(centroids), probeCount, seed); err != nil {
		return err
	}

	// Body, compressed.
	body, err := newCompressor(cw, opts.Compression)
	if err != nil {
		return err
	}
	if err := writeBody(body, snap.Dimension(), ids, vectors, centroids, assignments, meta, c); err != nil {
		body.Close()
		return err
	}
	if err := body.Close(); err != nil {
		return err
	}

	// CRC32 trailer over header + compressed body.
	return binary.Write(w, binary.LittleEndian, cw.Sum())
}

// Decode reads a snapshot and its metadata section from data produced by
// Encode.
func Decode(r io.Reader) (index.Snapshot, map[string]store.Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < 4 {
		return nil, nil, ErrChecksumMismatch
	}

	payload, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32Sum(payload) != binary.LittleEndian.Uint32(trailer) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bytes.NewReader(payload)
	hdr, codecName, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}

	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, nil, fmt.Errorf("persist: unknown metadata codec %q", codecName)
	}

	body, err := newDecompressor(br, Compression(hdr.compression))
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	ids, vectors, centroids, assignments, meta, err := readBody(body, hdr, c)
	if err != nil {
		return nil, nil, err
	}

	metric := distance.Metric(hdr.metric)
	switch index.Strategy(hdr.strategy) {
	case index.StrategyFlat:
		snap, err := flat.Restore(ids, vectors, int(hdr.dimension), metric, hdr.storeVersion)
		if err != nil {
			return nil, nil, err
		}
		return snap, meta, nil
	case index.StrategyIVF:
		snap, err := ivf.Restore(ids, vectors, centroids, assignments,
			int(hdr.dimension), metric, int(hdr.probeCount), int64(hdr.seed), hdr.storeVersion)
		if err != nil {
			return nil, nil, err
		}
		return snap, meta, nil
	default:
		return nil, nil, fmt.Errorf("persist: unknown strategy %d", hdr.strategy)
	}
}

// Save encodes the snapshot and writes it to the blob store under name.
func Save(ctx context.Context, bs blobstore.BlobStore, name string, snap index.Snapshot, meta map[string]store.Metadata, optFns ...func(*Options)) error {
	var buf bytes.Buffer
	if err := Encode(&buf, snap, meta, optFns...); err != nil {
		return err
	}
	return bs.Put(ctx, name, buf.Bytes())
}

// Load opens the named blob and decodes the snapshot from it.
func Load(ctx context.Context, bs blobstore.BlobStore, name string) (index.Snapshot, map[string]store.Metadata, error) {
	rc, err := bs.Open(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	return Decode(rc)
}

type header struct {
	strategy      uint8
	metric        uint8
	compression   uint8
	dimension     uint32
	count         uint64
	numPartitions uint32
	probeCount    uint32
	seed          uint64
	storeVersion  uint64
}

func writeHeader(w io.Writer, snap index.Snapshot, opts Options, codecName string, centroidFloats, probeCount int, seed int64) error {
	numPartitions := 0
	if snap.Dimension() > 0 {
		numPartitions = centroidFloats / snap.Dimension()
	}

	fields := []any{
		uint32(MagicNumber),
		uint32(FormatVersion),
		uint8(snap.Strategy()),
		uint8(snap.Metric()),
		uint8(opts.Compression),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if err := writeString(w, codecName); err != nil {
		return err
	}

	rest := []any{
		uint32(snap.Dimension()),
		uint64(snap.Len()),
		uint32(numPartitions),
		uint32(probeCount),
		uint64(seed),
		snap.Version(),
	}
	for _, f := range rest {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r io.Reader) (header, string, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return header{}, "", err
	}
	if magic != MagicNumber {
		return header{}, "", ErrInvalidMagic
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return header{}, "", err
	}
	if version != FormatVersion {
		return header{}, "", fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}

	var hdr header
	for _, f := range []any{&hdr.strategy, &hdr.metric, &hdr.compression} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return header{}, "", err
		}
	}

	codecName, err := readString(r)
	if err != nil {
		return header{}, "", err
	}

	for _, f := range []any{&hdr.dimension, &hdr.count, &hdr.numPartitions, &hdr.probeCount, &hdr.seed, &hdr.storeVersion} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return header{}, "", err
		}
	}
	return hdr, codecName, nil
}

func writeBody(w io.Writer, dim int, ids []string, vectors, centroids []float32, assignments []uint32, meta map[string]store.Metadata, c codec.Codec) error {
	for _, id := range ids {
		if err := writeString(w, id); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, vectors); err != nil {
		return err
	}
	if len(centroids) > 0 {
		if err := binary.Write(w, binary.LittleEndian, centroids); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, assignments); err != nil {
			return err
		}
	}

	var blob []byte
	if len(meta) > 0 {
		var err error
		blob, err = c.Marshal(meta)
		if err != nil {
			return fmt.Errorf("persist: encode metadata: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(blob))); err != nil {
		return err
	}
	if len(blob) > 0 {
		if _, err := w.Write(blob); err != nil {
			return err
		}
	}
	return nil
}

func readBody(r io.Reader, hdr header, c codec.Codec) (ids []string, vectors, centroids []float32, assignments []uint32, meta map[string]store.Metadata, err error) {
	ids = make([]string, hdr.count)
	for i := range ids {
		if ids[i], err = readString(r); err != nil {
			return nil, nil, nil, nil, nil, err
		}
	}

	vectors = make([]float32, hdr.count*uint64(hdr.dimension))
	if err = binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	if hdr.numPartitions > 0 && index.Strategy(hdr.strategy) == index.StrategyIVF {
		centroids = make([]float32, uint64(hdr.numPartitions)*uint64(hdr.dimension))
		if err = binary.Read(r, binary.LittleEndian, centroids); err != nil {
			return nil, nil, nil, nil, nil, err
		}
		assignments = make([]uint32, hdr.count)
		if err = binary.Read(r, binary.LittleEndian, assignments); err != nil {
			return nil, nil, nil, nil, nil, err
		}
	}

	var blobLen uint32
	if err = binary.Read(r, binary.LittleEndian, &blobLen); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if blobLen > 0 {
		blob := make([]byte, blobLen)
		if _, err = io.ReadFull(r, blob); err != nil {
			return nil, nil, nil, nil, nil, err
		}
		if err = c.Unmarshal(blob, &meta); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("persist: decode metadata: %w", err)
		}
	}
	return ids, vectors, centroids, assignments, meta, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func crc32Sum(data []byte) uint32 {
	cw := newChecksumWriter(io.Discard)
	cw.Write(data) //nolint:errcheck // io.Discard cannot fail
	return cw.Sum()
}

// nopWriteCloser adapts the uncompressed path to the compressor interface.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCompression, c)
	}
}

func newDecompressor(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCompression, c)
	}
}
