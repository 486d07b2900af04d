package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names the codec wrapped around the tar stream
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
	CompressionLZ4  CompressionType = "lz4"
)

// ParseCompression maps a user supplied name onto a CompressionType.
// An empty name selects gzip.
func ParseCompression(name string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none", "tar":
		return CompressionNone, nil
	}
	return "", fmt.Errorf("unsupported compression algorithm: %s", name)
}

// Extension returns the archive file suffix for the codec
func (c CompressionType) Extension() string {
	switch c {
	case CompressionZstd:
		return ".tar.zst"
	case CompressionLZ4:
		return ".tar.lz4"
	case CompressionNone:
		return ".tar"
	default:
		return ".tar.gz"
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// openCodec opens the compressing stream of an archive
var openCodec = newWriter

// newWriter wraps w with the codec. level 0 selects the codec's default.
func newWriter(w io.Writer, c CompressionType, level int) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(w, level)
	case CompressionZstd:
		encoderLevel := zstd.SpeedDefault
		switch {
		case level == 0:
		case level <= 1:
			encoderLevel = zstd.SpeedFastest
		case level <= 3:
			encoderLevel = zstd.SpeedDefault
		case level <= 6:
			encoderLevel = zstd.SpeedBetterCompression
		default:
			encoderLevel = zstd.SpeedBestCompression
		}
		return zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		if level > 6 {
			if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, fmt.Errorf("failed to set LZ4 compression level: %w", err)
			}
		}
		return zw, nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", c)
}

// NewReader returns a reader that decompresses r with the codec.
func NewReader(r io.Reader, c CompressionType) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionNone:
		return io.NopCloser(r), nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", c)
}
