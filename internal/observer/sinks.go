package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mpataki/tandem/internal/jsonfile"
)

// JSONLSink appends events to a file, one JSON object per line. The file is
// opened on first write.
type JSONLSink struct {
	path string
	f    *os.File
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Write(ev Event) error {
	if s.f == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		s.f = f
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadEvents replays a JSONL trail written by JSONLSink.
func ReadEvents(path string) ([]Event, error) {
	return jsonfile.ReadLines[Event](path)
}

// LogSink mirrors events into a slog.Logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ev Event) error {
	level := slog.LevelInfo
	switch ev.Type {
	case EventToolCall:
		level = slog.LevelDebug
	case EventSessionFailed:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("event", string(ev.Type)),
		slog.Int64("seq", ev.Seq),
	}
	if ev.Round > 0 {
		attrs = append(attrs, slog.Int("round", ev.Round))
	}
	if ev.Agent != "" {
		attrs = append(attrs, slog.String("agent", ev.Agent))
	}
	for k, v := range ev.Data {
		attrs = append(attrs, slog.Any(k, v))
	}
	msg := ev.Message
	if msg == "" {
		msg = string(ev.Type)
	}
	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
	return nil
}
