// Package reflection writes post-request journal entries: one JSON file per
// completed request with whatever the service learned from it. Writing is
// detached from the request path and never delays a response.
package reflection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

// Entry is one journal record.
type Entry struct {
	EntryID           string         `json:"entry_id"`
	TraceID           string         `json:"trace_id"`
	Insights          []string       `json:"insights"`
	ProposedChange    string         `json:"proposed_change,omitempty"`
	MetricsStructured map[string]any `json:"metrics_structured,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Writer appends entries to the journal directory. Filenames are
// timestamp-trace-sequence so entries sort chronologically and never collide.
type Writer struct {
	dir    string
	logger *logging.Logger
	seq    atomic.Int64
}

func NewWriter(dir string, logger *logging.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Writer{dir: dir, logger: logging.OrNop(logger).Component("reflection")}, nil
}

// Record writes the entry in the background. Failures are logged and
// dropped; the journal is best-effort by design.
func (w *Writer) Record(entry Entry) {
	async.Go(w.logger, "reflection.record", func() {
		if err := w.write(entry); err != nil {
			w.logger.Warn("journal entry dropped", "trace_id", entry.TraceID, "err", err)
		}
	})
}

// RecordSync writes the entry on the caller's goroutine. Used by tests and
// shutdown paths that must not lose the final entry.
func (w *Writer) RecordSync(entry Entry) error {
	return w.write(entry)
}

func (w *Writer) write(entry Entry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	seq := w.seq.Add(1)
	name := fmt.Sprintf("%s-%s-%d.json",
		entry.CreatedAt.Format("20060102-150405"), entry.TraceID, seq)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	w.logger.Debug("journal entry written", "file", name)
	return nil
}

// List returns journal filenames, oldest first.
func (w *Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read journal directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
