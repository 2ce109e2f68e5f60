package main

import (
	"github.com/pdfmill/pdfmill/internal/cli"
	"github.com/pdfmill/pdfmill/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
