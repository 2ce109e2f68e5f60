// Package metrics exposes Prometheus instrumentation for conversion jobs.
// Long OCR runs make the optional metrics endpoint worth having: an operator
// can watch job progress and history while a conversion grinds on.
package metrics

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdfmill",
		Name:      "jobs_total",
		Help:      "Conversion jobs by terminal outcome.",
	}, []string{"outcome"})

	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pdfmill",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of conversion jobs in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	outputLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdfmill",
		Name:      "output_lines_total",
		Help:      "Output lines streamed from conversion jobs by source.",
	}, []string{"source"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pdfmill",
		Name:      "build_info",
		Help:      "Build metadata for the running pdfmill binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(jobsTotal, jobDuration, outputLines, buildInfo)
}

// Registry returns the Prometheus registry containing all pdfmill metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveJob records one finished job.
func ObserveJob(outcome string, d time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.Observe(d.Seconds())
}

// CountOutputLine increments the streamed-line counter for a source.
func CountOutputLine(source string) {
	if source == "" {
		source = "unknown"
	}
	outputLines.WithLabelValues(source).Inc()
}

// Handler returns an HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
