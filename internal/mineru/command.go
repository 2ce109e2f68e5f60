// Package mineru builds magic-pdf invocations and knows where the tool leaves
// its results.
package mineru

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultTool is the conversion executable driven by the front-end.
const DefaultTool = "magic-pdf"

// Method selects the conversion strategy magic-pdf applies.
type Method string

const (
	MethodAuto Method = "auto"
	MethodOCR  Method = "ocr"
	MethodTxt  Method = "txt"
)

// ParseMethod validates a user-supplied method name. An empty string selects
// auto.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodAuto:
		return MethodAuto, nil
	case MethodOCR:
		return MethodOCR, nil
	case MethodTxt:
		return MethodTxt, nil
	default:
		return "", fmt.Errorf("unknown conversion method %q (want auto, ocr or txt)", s)
	}
}

// Invocation describes one conversion: which PDF, where results go, and the
// optional flags the tool accepts.
type Invocation struct {
	Input     string
	OutputDir string
	Method    Method
	Lang      string
	StartPage int
	EndPage   int
	Debug     bool
}

func (inv *Invocation) Validate() error {
	if strings.TrimSpace(inv.Input) == "" {
		return errors.New("input PDF path is required")
	}
	if strings.TrimSpace(inv.OutputDir) == "" {
		return errors.New("output directory is required")
	}
	if _, err := ParseMethod(string(inv.Method)); err != nil {
		return err
	}
	if inv.StartPage < 0 || inv.EndPage < 0 {
		return errors.New("page numbers must not be negative")
	}
	if inv.StartPage > 0 && inv.EndPage > 0 && inv.EndPage < inv.StartPage {
		return fmt.Errorf("end page %d precedes start page %d", inv.EndPage, inv.StartPage)
	}
	return nil
}

func (inv *Invocation) method() Method {
	if inv.Method == "" {
		return MethodAuto
	}
	return inv.Method
}

// Command renders the tool invocation. Zero page values and empty language
// mean "not specified" and are omitted, matching the tool's defaults.
func (inv *Invocation) Command(tool string) string {
	if tool == "" {
		tool = DefaultTool
	}
	var b strings.Builder
	fmt.Fprintf(&b, `%s -p "%s" -o "%s" -m %s`, tool, inv.Input, inv.OutputDir, inv.method())
	if inv.Lang != "" {
		fmt.Fprintf(&b, " -l %s", inv.Lang)
	}
	if inv.StartPage > 0 {
		fmt.Fprintf(&b, " -s %d", inv.StartPage)
	}
	if inv.EndPage > 0 {
		fmt.Fprintf(&b, " -e %d", inv.EndPage)
	}
	if inv.Debug {
		b.WriteString(" -d True")
	}
	return b.String()
}

// Shell renders the full shell command, prefixing the platform's conda
// activation step when condaEnv is set.
func (inv *Invocation) Shell(condaEnv, tool string) string {
	return activationPrefix(condaEnv) + inv.Command(tool)
}

// Stem returns the input PDF's base name without extension; the tool names
// its result tree after it.
func (inv *Invocation) Stem() string {
	base := filepath.Base(inv.Input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// JobDir is the directory the tool creates for this conversion. The embedding
// application checks it before launch and may remove it after cancellation.
func (inv *Invocation) JobDir() string {
	return filepath.Join(inv.OutputDir, inv.Stem())
}

// MarkdownPath is where the converted markdown lands on success.
func (inv *Invocation) MarkdownPath() string {
	stem := inv.Stem()
	return filepath.Join(inv.OutputDir, stem, string(inv.method()), stem+".md")
}
