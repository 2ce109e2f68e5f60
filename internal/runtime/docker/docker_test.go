package docker

import (
	"reflect"
	"testing"
)

func TestLineWriterSplitsAndFlushes(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line string) { lines = append(lines, line) })

	chunks := []string{"first li", "ne\nsecond line\npar", "tial"}
	for _, chunk := range chunks {
		n, err := w.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("write %q: %v", chunk, err)
		}
		if n != len(chunk) {
			t.Fatalf("short write: %d of %d", n, len(chunk))
		}
	}

	want := []string{"first line", "second line"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("before close: got %v, want %v", lines, want)
	}

	w.Close()
	want = append(want, "partial")
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("after close: got %v, want %v", lines, want)
	}
}

func TestLineWriterTrimsCarriageReturns(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line string) { lines = append(lines, line) })
	if _, err := w.Write([]byte("first\r\nsecond\r\ntail\r")); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if !reflect.DeepEqual(lines, []string{"first", "second", "tail"}) {
		t.Fatalf("got %v", lines)
	}
}

func TestLineWriterSkipsEmptyLines(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line string) { lines = append(lines, line) })
	if _, err := w.Write([]byte("\n\nreal\n\n")); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if !reflect.DeepEqual(lines, []string{"real"}) {
		t.Fatalf("got %v", lines)
	}
}

func TestShortID(t *testing.T) {
	long := "0123456789abcdef0123456789abcdef"
	if got := shortID(long); got != "0123456789ab" {
		t.Fatalf("got %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
