// Package gammastore persists periodic aggregate-gamma snapshots to an
// append-only log, fsyncing each record before reporting it written.
package gammastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Sink accepts one (timestamp, dealer gamma) observation at a time.
type Sink interface {
	Append(ctx context.Context, ts float64, dealerGamma float64) error
}

// FileSink appends rows of the form "ts,dealer_gamma\n" to a single file.
// Each Append opens the target in append mode, writes the row and fsyncs
// the file; no temp file or rename is involved, so rows already fsynced are
// untouched by a later write, but a crash during a write can leave a
// partial last row.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink opens (creating if necessary) the append-only log at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("gammastore: creating directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path is operator-configured
	if err != nil {
		return nil, fmt.Errorf("gammastore: opening %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("gammastore: closing %q after create: %w", path, err)
	}
	return &FileSink{path: path}, nil
}

// Append writes one row and fsyncs it before returning, so a snapshot the
// caller believes is durable actually is.
func (s *FileSink) Append(ctx context.Context, ts float64, dealerGamma float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path is operator-configured
	if err != nil {
		return fmt.Errorf("gammastore: opening %q for append: %w", s.path, err)
	}
	defer f.Close()

	row := strconv.FormatFloat(ts, 'f', -1, 64) + "," + strconv.FormatFloat(dealerGamma, 'f', -1, 64) + "\n"
	if _, err := io.WriteString(f, row); err != nil {
		return fmt.Errorf("gammastore: writing row to %q: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("gammastore: fsyncing %q: %w", s.path, err)
	}
	return nil
}

// Path reports the file backing this sink.
func (s *FileSink) Path() string {
	return s.path
}
