// Package config holds the typed configuration the core consumes and the
// client-side filename validation rule from spec section 6. CLI argument
// parsing itself lives in cmd/ufserver and cmd/ufclient; this package is
// the boundary the core actually depends on.
package config

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidFilename is the sentinel Logic error for filename validation
// failures; wrap it with errors.Wrap for context, check with errors.Is.
var ErrInvalidFilename = errors.New("invalid filename")

const (
	maxNameBytes = 15
	maxExtBytes  = 3
)

// Server holds the server's CLI-derived configuration.
type Server struct {
	Port uint16
	// MetricsAddr, if non-empty, is the address the Prometheus exporter
	// listens on (e.g. ":9090"). Empty disables metrics exposition.
	MetricsAddr string
	// OutputDir is where finalized uploads are written.
	OutputDir string
}

// Client holds the client's CLI-derived configuration.
type Client struct {
	Host     string
	Port     uint16
	Filename string
}

// ValidateFilename enforces spec section 6: length <= 15 bytes, ASCII
// only, exactly one '.', extension <= 3 bytes.
func ValidateFilename(name string) error {
	if len(name) == 0 {
		return errors.Wrap(ErrInvalidFilename, "empty filename")
	}
	if len(name) > maxNameBytes {
		return errors.Wrapf(ErrInvalidFilename, "filename %q exceeds %d bytes", name, maxNameBytes)
	}
	for i := 0; i < len(name); i++ {
		if name[i] > 127 {
			return errors.Wrapf(ErrInvalidFilename, "filename %q is not ASCII", name)
		}
	}
	dots := strings.Count(name, ".")
	if dots != 1 {
		return errors.Wrapf(ErrInvalidFilename, "filename %q must contain exactly one '.', has %d", name, dots)
	}
	ext := name[strings.IndexByte(name, '.')+1:]
	if len(ext) > maxExtBytes {
		return errors.Wrapf(ErrInvalidFilename, "filename %q extension exceeds %d bytes", name, maxExtBytes)
	}
	return nil
}
