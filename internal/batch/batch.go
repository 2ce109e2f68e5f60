// Package batch loads conversion manifests: YAML files listing several PDFs
// to convert in one run.
package batch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pdfmill/pdfmill/internal/mineru"
)

// Manifest is a parsed batch file.
type Manifest struct {
	// OutputDir is the default output directory for entries that do not set
	// their own.
	OutputDir string  `yaml:"output"`
	Jobs      []Entry `yaml:"jobs"`
}

// Entry describes a single conversion within the batch.
type Entry struct {
	Input     string `yaml:"input"`
	Output    string `yaml:"output"`
	Method    string `yaml:"method"`
	Lang      string `yaml:"lang"`
	StartPage int    `yaml:"start_page"`
	EndPage   int    `yaml:"end_page"`
	Debug     bool   `yaml:"debug"`
}

// Load reads a manifest from path. Relative input and output paths are
// resolved against the manifest's directory, and every entry is validated up
// front so a typo in job twelve surfaces before job one starts.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Manifest
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	if len(doc.Jobs) == 0 {
		return nil, fmt.Errorf("%s: manifest lists no jobs", absPath)
	}

	baseDir := filepath.Dir(absPath)
	doc.OutputDir = resolve(baseDir, doc.OutputDir)
	for i := range doc.Jobs {
		entry := &doc.Jobs[i]
		entry.Input = resolve(baseDir, entry.Input)
		entry.Output = resolve(baseDir, entry.Output)
		if entry.Output == "" {
			entry.Output = doc.OutputDir
		}
		if _, err := entry.Invocation(); err != nil {
			return nil, fmt.Errorf("%s: job %d: %w", absPath, i+1, err)
		}
	}
	return &doc, nil
}

// Invocation converts the entry into a validated tool invocation.
func (e *Entry) Invocation() (*mineru.Invocation, error) {
	method, err := mineru.ParseMethod(e.Method)
	if err != nil {
		return nil, err
	}
	inv := &mineru.Invocation{
		Input:     e.Input,
		OutputDir: e.Output,
		Method:    method,
		Lang:      e.Lang,
		StartPage: e.StartPage,
		EndPage:   e.EndPage,
		Debug:     e.Debug,
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func resolve(baseDir, path string) string {
	if path == "" {
		return ""
	}
	expanded := os.ExpandEnv(path)
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded)
	}
	return filepath.Clean(filepath.Join(baseDir, expanded))
}
