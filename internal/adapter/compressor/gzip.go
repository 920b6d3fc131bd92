package compressor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

type GzipCompressor struct {
	level int
}

func NewGzip() *GzipCompressor {
	return &GzipCompressor{level: gzip.DefaultCompression}
}

func NewGzipLevel(level int) (*GzipCompressor, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip level %d", level)
	}
	return &GzipCompressor{level: level}, nil
}

// NewWriter wraps w so everything written is gzip-compressed. Closing the
// returned writer flushes the gzip trailer but does not close w.
func (g *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	gzipWriter, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return gzipWriter, nil
}

// HasContent reports whether the gzip file at path decompresses to at least
// one byte.
func (g *GzipCompressor) HasContent(path string) (bool, error) {
	sourceFile, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	gzipReader, err := gzip.NewReader(sourceFile)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	var first [1]byte
	n, err := io.ReadFull(gzipReader, first[:])
	if n == 1 {
		return true, nil
	}
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	return false, fmt.Errorf("failed to decompress: %w", err)
}
