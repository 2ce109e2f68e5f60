package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/pdfmill/pdfmill/internal/runtime"
)

// sink delivers job events through a bounded channel. When the consumer
// cannot keep up and the buffer would overflow, progress lines are dropped and
// a synthesized warning surfaces the number of discarded entries per source.
// The terminal outcome is never dropped.
type sink struct {
	out chan Event

	mu    sync.Mutex
	drops map[string]int
}

func newSink(size int) *sink {
	if size <= 0 {
		size = 1
	}
	return &sink{
		out:   make(chan Event, size),
		drops: make(map[string]int),
	}
}

func (s *sink) events() <-chan Event {
	return s.out
}

func (s *sink) line(entry runtime.LogEntry) {
	s.deliver(normalize(entry))
}

func (s *sink) system(level, format string, args ...any) {
	s.deliver(Event{
		Timestamp: time.Now(),
		Type:      EventTypeLog,
		Message:   fmt.Sprintf(format, args...),
		Source:    runtime.LogSourceSystem,
		Level:     level,
	})
}

// terminal flushes pending drop notices, emits the outcome and closes the
// stream. Must be called exactly once.
func (s *sink) terminal(t EventType, message string) {
	for source, count := range s.takeAllDrops() {
		s.out <- synthesizeDropEvent(source, count)
	}
	level := "info"
	switch t {
	case EventTypeFailed:
		level = "error"
	case EventTypeCancelled:
		level = "warn"
	}
	s.out <- Event{
		Timestamp: time.Now(),
		Type:      t,
		Message:   message,
		Source:    runtime.LogSourceSystem,
		Level:     level,
	}
	close(s.out)
}

func (s *sink) deliver(evt Event) {
	if !s.flushPending(evt.Source) {
		s.recordDrops(evt.Source, 1)
		return
	}
	if s.trySend(evt) {
		return
	}
	s.recordDrops(evt.Source, 1)
}

func (s *sink) flushPending(source string) bool {
	for {
		count := s.takeDrops(source)
		if count == 0 {
			return true
		}
		if s.trySend(synthesizeDropEvent(source, count)) {
			continue
		}
		s.recordDrops(source, count)
		return false
	}
}

func (s *sink) trySend(evt Event) bool {
	select {
	case s.out <- evt:
		return true
	default:
		return false
	}
}

func (s *sink) takeDrops(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := s.drops[source]
	if count != 0 {
		delete(s.drops, source)
	}
	return count
}

func (s *sink) takeAllDrops() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.drops) == 0 {
		return nil
	}
	pending := s.drops
	s.drops = make(map[string]int)
	return pending
}

func (s *sink) recordDrops(source string, count int) {
	if count <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[source] += count
}

func normalize(entry runtime.LogEntry) Event {
	source := entry.Source
	if source == "" {
		source = runtime.LogSourceStdout
	}
	level := entry.Level
	if level == "" {
		if source == runtime.LogSourceStderr {
			level = "warn"
		} else {
			level = "info"
		}
	}
	return Event{
		Timestamp: time.Now(),
		Type:      EventTypeLog,
		Message:   entry.Message,
		Source:    source,
		Level:     level,
	}
}

func synthesizeDropEvent(source string, count int) Event {
	return Event{
		Timestamp: time.Now(),
		Type:      EventTypeLog,
		Message:   fmt.Sprintf("output overflow: dropped=%d source=%s", count, source),
		Source:    runtime.LogSourceSystem,
		Level:     "warn",
	}
}
