package job

import (
	"strings"
	"testing"

	"github.com/pdfmill/pdfmill/internal/runtime"
)

func TestSinkDropsLinesAndSurfacesDropCounts(t *testing.T) {
	s := newSink(1)

	s.line(runtime.LogEntry{Message: "kept"})
	s.line(runtime.LogEntry{Message: "dropped-1"})
	s.line(runtime.LogEntry{Message: "dropped-2"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.terminal(EventTypeSucceeded, "ok")
	}()

	var events []Event
	for evt := range s.events() {
		events = append(events, evt)
	}
	<-done

	if len(events) != 3 {
		t.Fatalf("expected kept line, drop notice and outcome, got %+v", events)
	}
	if events[0].Message != "kept" {
		t.Fatalf("first event = %q, want the kept line", events[0].Message)
	}
	if !strings.Contains(events[1].Message, "dropped=2") {
		t.Fatalf("drop notice missing count: %q", events[1].Message)
	}
	if events[2].Type != EventTypeSucceeded {
		t.Fatalf("final event = %q, want outcome", events[2].Type)
	}
}

func TestSinkNormalizesSourcesAndLevels(t *testing.T) {
	s := newSink(8)
	s.line(runtime.LogEntry{Message: "plain"})
	s.line(runtime.LogEntry{Message: "warned", Source: runtime.LogSourceStderr})
	s.system("info", "note %d", 7)

	evt := <-s.events()
	if evt.Source != runtime.LogSourceStdout || evt.Level != "info" {
		t.Fatalf("unexpected normalization: %+v", evt)
	}
	evt = <-s.events()
	if evt.Source != runtime.LogSourceStderr || evt.Level != "warn" {
		t.Fatalf("stderr entries default to warn: %+v", evt)
	}
	evt = <-s.events()
	if evt.Source != runtime.LogSourceSystem || evt.Message != "note 7" {
		t.Fatalf("unexpected system event: %+v", evt)
	}
	if evt.Timestamp.IsZero() {
		t.Fatal("timestamp not populated")
	}
}

func TestSinkTerminalLevels(t *testing.T) {
	cases := []struct {
		eventType EventType
		level     string
	}{
		{EventTypeSucceeded, "info"},
		{EventTypeFailed, "error"},
		{EventTypeCancelled, "warn"},
	}
	for _, tc := range cases {
		s := newSink(2)
		s.terminal(tc.eventType, "outcome")
		evt := <-s.events()
		if evt.Level != tc.level {
			t.Errorf("%s outcome level = %q, want %q", tc.eventType, evt.Level, tc.level)
		}
		if !evt.Type.Terminal() {
			t.Errorf("%s should be terminal", tc.eventType)
		}
		if _, ok := <-s.events(); ok {
			t.Errorf("stream must close after %s outcome", tc.eventType)
		}
	}
}
