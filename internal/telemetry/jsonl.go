package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// JSONLSink appends events to a newline-delimited JSON log, size-rotated with
// a bounded number of backups.
type JSONLSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// JSONLConfig configures the local telemetry log.
type JSONLConfig struct {
	Path       string // log file path, e.g. telemetry/events.jsonl
	MaxSizeMB  int    // rotate after this size (default 50)
	MaxBackups int    // rotated files kept (default 5)
	MaxAgeDays int    // rotated files kept at most this long (0 = unlimited)
}

// NewJSONLSink creates the sink, creating parent directories as needed.
func NewJSONLSink(config JSONLConfig) (*JSONLSink, error) {
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = 50
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, err
	}
	return &JSONLSink{
		writer: &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		},
	}, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Write(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(data)
	return err
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
