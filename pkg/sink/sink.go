// Package sink abstracts "write bytes to a path" and "ensure a
// directory exists" behind afero, the way wud's extractor targets an
// afero.Fs rather than the os package directly (spec 4.8).
package sink

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/falk/hactool-go/pkg/herr"
)

// bufferSize is the fixed streaming buffer spec 4.8 calls for.
const bufferSize = 4 * 1024 * 1024

// Sink writes extracted container contents to a destination
// filesystem, which in production is the real OS filesystem but can
// be swapped for an in-memory afero.Fs in tests.
type Sink struct {
	fs afero.Fs
}

// NewOS builds a Sink backed by the real filesystem.
func NewOS() *Sink {
	return &Sink{fs: afero.NewOsFs()}
}

// New builds a Sink over an arbitrary afero filesystem.
func New(fs afero.Fs) *Sink {
	return &Sink{fs: fs}
}

// MkdirAll ensures path and all of its ancestors exist.
func (s *Sink) MkdirAll(path string) error {
	if err := s.fs.MkdirAll(path, os.ModePerm|os.ModeDir); err != nil {
		return herr.New(herr.KindIO, "sink.MkdirAll", err)
	}
	return nil
}

// WriteFrom streams all bytes r yields into path, creating parent
// directories as needed, in bufferSize-sized chunks.
func (s *Sink) WriteFrom(path string, r io.Reader) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), os.ModePerm|os.ModeDir); err != nil {
		return herr.New(herr.KindIO, "sink.WriteFrom", err)
	}

	f, err := s.fs.Create(path)
	if err != nil {
		return herr.New(herr.KindIO, "sink.WriteFrom", err)
	}

	buf := make([]byte, bufferSize)
	_, copyErr := io.CopyBuffer(struct{ io.Writer }{f}, r, buf)
	closeErr := f.Close()

	var result *multierror.Error
	if copyErr != nil {
		result = multierror.Append(result, copyErr)
	}
	if closeErr != nil {
		result = multierror.Append(result, closeErr)
	}
	if result != nil {
		return herr.New(herr.KindIO, "sink.WriteFrom", result)
	}
	return nil
}

// WriteAt streams size bytes read from src at srcOffset into path.
func (s *Sink) WriteAt(path string, src io.ReaderAt, srcOffset, size int64) error {
	return s.WriteFrom(path, io.NewSectionReader(src, srcOffset, size))
}

