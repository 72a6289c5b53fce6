package cdr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/switchpoint/msc/internal/metrics"
)

// Writer appends ledger lines to a single shared file. Appends are
// serialized so concurrent signaling and billing writers never interleave
// partial lines; prior lines are never rewritten.
type Writer struct {
	mu   sync.Mutex
	path string
}

// NewWriter creates a writer for dir/name, creating dir if needed.
func NewWriter(dir, name string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create CDR directory %s: %w", dir, err)
	}
	return &Writer{path: filepath.Join(dir, name)}, nil
}

// Path returns the ledger file location.
func (w *Writer) Path() string { return w.path }

// Append writes one record to the ledger.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CDR ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(rec.Line() + "\n"); err != nil {
		return fmt.Errorf("failed to append CDR: %w", err)
	}
	metrics.CDRsWrittenTotal.Inc()
	return nil
}
