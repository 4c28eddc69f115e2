// Package essink ships telemetry events to a search index over its bulk
// NDJSON endpoint. Document IDs are deterministic so replaying a request
// trace is idempotent. When the index is unreachable the sink buffers events
// to local disk and a backfill loop replays them after reconnection.
package essink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
)

// Config configures the search-index sink.
type Config struct {
	BaseURL       string        // e.g. http://localhost:9200
	IndexPrefix   string        // e.g. "agent" → agent-telemetry-2026.08
	BufferDir     string        // local spill directory used while offline
	FlushInterval time.Duration // batch flush cadence (default 2s)
	MaxBatch      int           // events per bulk request (default 200)
}

// Sink implements telemetry.Sink against an Elasticsearch-compatible API.
type Sink struct {
	config Config
	client *http.Client
	logger *logging.Logger

	mu      sync.Mutex
	batch   []telemetry.Event
	offline bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ telemetry.Sink = (*Sink)(nil)

// New creates the sink and starts its flush and backfill loops.
func New(config Config, logger *logging.Logger) (*Sink, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("essink: base URL is required")
	}
	if config.IndexPrefix == "" {
		config.IndexPrefix = "agent"
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 200
	}
	if config.BufferDir != "" {
		if err := os.MkdirAll(config.BufferDir, 0o755); err != nil {
			return nil, err
		}
	}

	s := &Sink{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logging.OrNop(logger).Component("essink"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	async.Go(s.logger, "essink.flushLoop", s.flushLoop)
	return s, nil
}

func (s *Sink) Name() string { return "search-index" }

// Write batches the event; the flush loop ships batches asynchronously.
func (s *Sink) Write(event telemetry.Event) error {
	s.mu.Lock()
	s.batch = append(s.batch, event)
	full := len(s.batch) >= s.config.MaxBatch
	s.mu.Unlock()
	if full {
		s.flush()
	}
	return nil
}

// Close flushes the remaining batch and stops the loops.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
	s.flush()
	return nil
}

// DocumentID returns the deterministic ID for an event. Request traces and
// their steps use stable IDs so re-indexing produces the same document.
func DocumentID(event telemetry.Event) string {
	switch event.EventName {
	case "request_trace":
		return "trace_" + event.TraceID
	case "request_trace_step":
		if seq, ok := event.Fields["sequence"]; ok {
			return fmt.Sprintf("trace_%s_step_%v", event.TraceID, seq)
		}
	}
	return ""
}

// IndexFor returns the monthly index an event lands in.
func (s *Sink) IndexFor(event telemetry.Event) string {
	return fmt.Sprintf("%s-telemetry-%s", s.config.IndexPrefix, event.Timestamp.Format("2006.01"))
}

// DeleteIndicesOlderThan removes monthly indices entirely past the cutoff.
// Used by the lifecycle purge job.
func (s *Sink) DeleteIndicesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	// Walk back up to 36 months; indices are monthly so the set is small.
	for month := cutoff.AddDate(-3, 0, 0); month.Before(cutoff); month = month.AddDate(0, 1, 0) {
		index := fmt.Sprintf("%s-telemetry-%s", s.config.IndexPrefix, month.Format("2006.01"))
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.config.BaseURL+"/"+index, nil)
		if err != nil {
			return deleted, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return deleted, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Sink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()
	backfillTicker := time.NewTicker(30 * time.Second)
	defer backfillTicker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-backfillTicker.C:
			s.backfill()
		case <-s.stop:
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := s.bulkIndex(batch); err != nil {
		s.markOffline(err)
		s.spill(batch)
		return
	}
	s.markOnline()
}

func (s *Sink) bulkIndex(events []telemetry.Event) error {
	var body bytes.Buffer
	for _, event := range events {
		action := map[string]map[string]string{"index": {"_index": s.IndexFor(event)}}
		if id := DocumentID(event); id != "" {
			action["index"]["_id"] = id
		}
		actionLine, err := json.Marshal(action)
		if err != nil {
			return err
		}
		docLine, err := json.Marshal(event)
		if err != nil {
			return err
		}
		body.Write(actionLine)
		body.WriteByte('\n')
		body.Write(docLine)
		body.WriteByte('\n')
	}

	req, err := http.NewRequest(http.MethodPost, s.config.BaseURL+"/_bulk", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bulk index failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) markOffline(err error) {
	s.mu.Lock()
	wasOffline := s.offline
	s.offline = true
	s.mu.Unlock()
	if !wasOffline {
		s.logger.Warn("search index unreachable, buffering locally", "err", err)
	}
}

func (s *Sink) markOnline() {
	s.mu.Lock()
	wasOffline := s.offline
	s.offline = false
	s.mu.Unlock()
	if wasOffline {
		s.logger.Info("search index reachable again")
	}
}

// spill writes a failed batch to the local buffer directory as JSONL.
func (s *Sink) spill(events []telemetry.Event) {
	if s.config.BufferDir == "" {
		return
	}
	name := fmt.Sprintf("spill-%d.jsonl", time.Now().UnixNano())
	path := filepath.Join(s.config.BufferDir, name)
	var buf bytes.Buffer
	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		s.logger.Warn("failed to spill telemetry batch", "err", err)
	}
}

// backfill replays spilled batches once the index is reachable again.
// Deterministic document IDs make replay idempotent.
func (s *Sink) backfill() {
	if s.config.BufferDir == "" {
		return
	}
	entries, err := os.ReadDir(s.config.BufferDir)
	if err != nil || len(entries) == 0 {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(s.config.BufferDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var events []telemetry.Event
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var event telemetry.Event
			if err := json.Unmarshal(line, &event); err != nil {
				continue
			}
			events = append(events, event)
		}
		if len(events) == 0 {
			_ = os.Remove(path)
			continue
		}
		if err := s.bulkIndex(events); err != nil {
			// Still offline; retry on the next tick.
			return
		}
		s.markOnline()
		_ = os.Remove(path)
		s.logger.Info("backfilled spilled telemetry batch", "file", entry.Name(), "events", len(events))
	}
}
