package observer

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/tandem/internal/jsonfile"
)

const (
	EventsFile  = "events.jsonl"
	SummaryFile = "summary.json"
)

// Sink receives every recorded event. A failing sink never stops the session;
// its error is counted into the summary.
type Sink interface {
	Write(ev Event) error
}

type Options struct {
	// Dir receives events.jsonl and summary.json. Empty keeps the trail in
	// memory-only sinks.
	Dir string
	Now func() time.Time
}

// Log is the append-only event trail for one session.
type Log struct {
	mu      sync.Mutex
	dir     string
	now     func() time.Time
	sinks   []Sink
	seq     int64
	flushed bool
	summary Summary
}

// New creates a Log. When opts.Dir is set a JSONLSink for the directory is
// added in front of the given sinks.
func New(opts Options, sinks ...Sink) *Log {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Log{
		dir: opts.Dir,
		now: now,
		summary: Summary{
			Status:    StatusRunning,
			StartedAt: now(),
			Counts:    make(map[EventType]int),
		},
	}
	if opts.Dir != "" {
		js := NewJSONLSink(filepath.Join(opts.Dir, EventsFile))
		l.sinks = append(l.sinks, js)
		l.summary.EventsPath = js.Path()
		l.summary.SummaryPath = filepath.Join(opts.Dir, SummaryFile)
	}
	l.sinks = append(l.sinks, sinks...)
	return l
}

func (l *Log) Record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.flushed {
		return
	}
	l.seq++
	ev.Seq = l.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}

	l.summary.EventCount++
	l.summary.Counts[ev.Type]++
	switch ev.Type {
	case EventRoundEnd:
		l.summary.Rounds++
	case EventCheckpoint:
		l.summary.Checkpoints++
	case EventDriverSwap:
		l.summary.Swaps++
	}

	for _, s := range l.sinks {
		if err := s.Write(ev); err != nil {
			l.softError(err)
		}
	}
}

// Flush finalises the trail. Only the first call has an effect; later calls
// return the same summary.
func (l *Log) Flush(status Status, errMsg string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.flushed {
		return l.copySummary()
	}
	l.flushed = true
	l.summary.Status = status
	l.summary.Error = errMsg
	l.summary.EndedAt = l.now()

	for _, s := range l.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				l.softError(err)
			}
		}
	}
	if l.summary.SummaryPath != "" {
		if err := jsonfile.WriteAtomic(l.summary.SummaryPath, l.summary); err != nil {
			l.softError(fmt.Errorf("write summary: %w", err))
		}
	}
	return l.copySummary()
}

func (l *Log) softError(err error) {
	l.summary.WriteErrors++
	l.summary.WriteError = err.Error()
}

func (l *Log) copySummary() Summary {
	s := l.summary
	s.Counts = make(map[EventType]int, len(l.summary.Counts))
	for k, v := range l.summary.Counts {
		s.Counts[k] = v
	}
	return s
}

// Nop discards events. Its summary still carries the final status.
type Nop struct{}

func (Nop) Record(Event) {}

func (Nop) Flush(status Status, errMsg string) Summary {
	return Summary{Status: status, Error: errMsg, Counts: map[EventType]int{}}
}
