package mineru

import (
	"path/filepath"
	stdruntime "runtime"
	"strings"
	"testing"
)

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"", MethodAuto, false},
		{"auto", MethodAuto, false},
		{"OCR", MethodOCR, false},
		{" txt ", MethodTxt, false},
		{"fancy", "", true},
	}
	for _, tc := range cases {
		got, err := ParseMethod(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMethod(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseMethod(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestCommandRendersAllFlags(t *testing.T) {
	inv := &Invocation{
		Input:     "/docs/paper.pdf",
		OutputDir: "/out",
		Method:    MethodOCR,
		Lang:      "ch",
		StartPage: 2,
		EndPage:   9,
		Debug:     true,
	}
	got := inv.Command("")
	want := `magic-pdf -p "/docs/paper.pdf" -o "/out" -m ocr -l ch -s 2 -e 9 -d True`
	if got != want {
		t.Fatalf("command = %q, want %q", got, want)
	}
}

func TestCommandOmitsUnsetFlags(t *testing.T) {
	inv := &Invocation{Input: "in.pdf", OutputDir: "out"}
	got := inv.Command("magic-pdf")
	want := `magic-pdf -p "in.pdf" -o "out" -m auto`
	if got != want {
		t.Fatalf("command = %q, want %q", got, want)
	}
}

func TestShellPrependsActivation(t *testing.T) {
	inv := &Invocation{Input: "in.pdf", OutputDir: "out"}
	got := inv.Shell("MinerU", "")
	if stdruntime.GOOS == "windows" {
		if !strings.HasPrefix(got, "call conda activate MinerU && ") {
			t.Fatalf("missing activation prefix: %q", got)
		}
	} else if !strings.HasPrefix(got, "source activate MinerU && ") {
		t.Fatalf("missing activation prefix: %q", got)
	}
	if !strings.HasSuffix(got, inv.Command("")) {
		t.Fatalf("shell command does not end with tool invocation: %q", got)
	}

	if plain := inv.Shell("", ""); plain != inv.Command("") {
		t.Fatalf("empty env should add no prefix, got %q", plain)
	}
}

func TestValidate(t *testing.T) {
	valid := Invocation{Input: "a.pdf", OutputDir: "out", Method: MethodAuto}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid invocation rejected: %v", err)
	}

	cases := []Invocation{
		{OutputDir: "out"},
		{Input: "a.pdf"},
		{Input: "a.pdf", OutputDir: "out", Method: "fancy"},
		{Input: "a.pdf", OutputDir: "out", StartPage: -1},
		{Input: "a.pdf", OutputDir: "out", StartPage: 5, EndPage: 2},
	}
	for i, inv := range cases {
		if err := inv.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, inv)
		}
	}
}

func TestResultPaths(t *testing.T) {
	inv := &Invocation{Input: filepath.Join("docs", "paper.v2.pdf"), OutputDir: "out", Method: MethodTxt}
	if inv.Stem() != "paper.v2" {
		t.Fatalf("stem = %q", inv.Stem())
	}
	if got, want := inv.JobDir(), filepath.Join("out", "paper.v2"); got != want {
		t.Fatalf("job dir = %q, want %q", got, want)
	}
	if got, want := inv.MarkdownPath(), filepath.Join("out", "paper.v2", "txt", "paper.v2.md"); got != want {
		t.Fatalf("markdown path = %q, want %q", got, want)
	}
}
