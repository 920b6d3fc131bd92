package domain

import "io"

type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	HasContent(path string) (bool, error)
}
