package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alextra-lab/personal-agent-sub000/internal/config"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
)

func newTelemetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect the local telemetry log",
	}
	cmd.AddCommand(newTelemetryQueryCmd(), newTelemetryTraceCmd())
	return cmd
}

func newTelemetryQueryCmd() *cobra.Command {
	var event string
	var last int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print recent events from the telemetry log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			events, err := readEvents(cfg, func(e telemetry.Event) bool {
				return event == "" || e.EventName == event
			})
			if err != nil {
				return err
			}
			if last > 0 && len(events) > last {
				events = events[len(events)-last:]
			}
			printEvents(events)
			return nil
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "filter by event name")
	cmd.Flags().IntVar(&last, "last", 20, "print at most this many events")
	return cmd
}

func newTelemetryTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <trace-id>",
		Short: "Print every event recorded for one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			events, err := readEvents(cfg, func(e telemetry.Event) bool {
				return e.TraceID == args[0]
			})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no events for trace %s", args[0])
			}
			printEvents(events)
			return nil
		},
	}
}

func telemetryLogPath(cfg *config.Config) string {
	dir := cfg.Telemetry.JSONLDir
	if dir == "" {
		dir = filepath.Join(cfg.Service.DataDir, "telemetry")
	}
	return filepath.Join(dir, "events.jsonl")
}

// readEvents scans the current telemetry log, keeping events that match.
// Rotated files are skipped; this is a recent-history tool, not a search.
func readEvents(cfg *config.Config, keep func(telemetry.Event) bool) ([]telemetry.Event, error) {
	file, err := os.Open(telemetryLogPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []telemetry.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event telemetry.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if keep(event) {
			events = append(events, event)
		}
	}
	return events, scanner.Err()
}

func printEvents(events []telemetry.Event) {
	for _, e := range events {
		line := fmt.Sprintf("%s %-7s %s", e.Timestamp.Local().Format("15:04:05.000"), e.Level, bold(e.EventName))
		if e.TraceID != "" {
			line += " " + gray("trace="+e.TraceID)
		}
		if len(e.Fields) > 0 {
			if fields, err := json.Marshal(e.Fields); err == nil {
				line += " " + gray(string(fields))
			}
		}
		fmt.Println(line)
	}
}
