// Package fsio defines the filesystem seam the core consumes: a
// FileSource for the client to read the upload from, and a FileSink for
// the server to durably write the reassembled file to. Argument parsing,
// path validation beyond the wire's filename rules, and directory
// management are deliberately kept out of the core and live in the
// concrete implementations here.
package fsio

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileSource is read once by the client session: Stat returns the
// metadata to put in an InfoFile message, and the io.Reader yields the
// raw bytes to be chunked by the sender engine.
type FileSource interface {
	Stat() (filename string, size int64, err error)
	io.Reader
}

// FileSink durably persists the reassembled file under the given name.
// Implementations decide the destination directory.
type FileSink interface {
	Write(filename string, data []byte) error
}

// LocalFileSource reads an upload from the local filesystem.
type LocalFileSource struct {
	file *os.File
	name string
}

// OpenLocalFile opens path for reading and uses its base name as the
// wire filename.
func OpenLocalFile(path string) (*LocalFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return &LocalFileSource{file: f, name: filepath.Base(path)}, nil
}

func (l *LocalFileSource) Stat() (string, int64, error) {
	info, err := l.file.Stat()
	if err != nil {
		return "", 0, errors.Wrap(err, "stat")
	}
	return l.name, info.Size(), nil
}

func (l *LocalFileSource) Read(p []byte) (int, error) {
	return l.file.Read(p)
}

// Close releases the underlying file handle.
func (l *LocalFileSource) Close() error {
	return l.file.Close()
}

// LocalFileSink writes reassembled uploads under Dir, creating it if
// necessary. An existing Dir is tolerated.
type LocalFileSink struct {
	Dir string
}

// NewLocalFileSink ensures dir exists and returns a sink rooted there.
func NewLocalFileSink(dir string) (*LocalFileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return nil, errors.Wrapf(err, "creating output directory %s", dir)
	}
	return &LocalFileSink{Dir: dir}, nil
}

func (l *LocalFileSink) Write(filename string, data []byte) error {
	path := filepath.Join(l.Dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}
