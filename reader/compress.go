package reader

import (
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is a whole-file compression wrapper recognised by suffix.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// SplitCompression returns the compression implied by name and the name
// without the compression suffix.
func SplitCompression(name string) (Compression, string) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zst"):
		return CompressionZstd, name[:len(name)-len(".zst")]
	case strings.HasSuffix(lower, ".lz4"):
		return CompressionLZ4, name[:len(name)-len(".lz4")]
	}
	return CompressionNone, name
}

type zstdReadCloser struct {
	*zstd.Decoder
	src io.Closer
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.src.Close()
}

type readCloser struct {
	io.Reader
	io.Closer
}

func decompress(rc io.ReadCloser, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		return &zstdReadCloser{Decoder: dec, src: rc}, nil
	case CompressionLZ4:
		return readCloser{Reader: lz4.NewReader(rc), Closer: rc}, nil
	}
	return rc, nil
}

type compressWriter struct {
	io.WriteCloser
	dst io.Closer
}

func (w *compressWriter) Close() error {
	err := w.WriteCloser.Close()
	if cerr := w.dst.Close(); err == nil {
		err = cerr
	}
	return err
}

func compress(w io.WriteCloser, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return &compressWriter{WriteCloser: enc, dst: w}, nil
	case CompressionLZ4:
		return &compressWriter{WriteCloser: lz4.NewWriter(w), dst: w}, nil
	}
	return w, nil
}
