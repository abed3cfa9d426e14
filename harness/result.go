// Package harness runs Apache Bench (ab) against a single URL and parses
// its report into a Result.
package harness

import (
	"fmt"
	"slices"
	"time"
)

// Options describes one ab invocation and the search parameters that
// travel with it.
type Options struct {
	Name               string   `yaml:"name,omitempty" json:"name,omitempty"`
	URL                string   `yaml:"url" json:"url"`
	Concurrency        int      `yaml:"concurrency" json:"concurrency"`
	NumRequests        int      `yaml:"num_requests" json:"num_requests"`
	NumBaselineRuns    int      `yaml:"num_baseline_runs" json:"num_baseline_runs"`
	NumConcurrencyRuns int      `yaml:"num_concurrency_runs" json:"num_concurrency_runs"`
	PercentMargin      float64  `yaml:"percent_margin" json:"percent_margin"`
	MaxLatency         float64  `yaml:"max_latency" json:"max_latency"`
	KeepAlive          bool     `yaml:"keep_alive,omitempty" json:"keep_alive,omitempty"`
	Headers            []string `yaml:"headers,omitempty" json:"headers,omitempty"`
	TimeoutSeconds     int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// WithConcurrency returns a copy of o with Concurrency set to c.
func (o Options) WithConcurrency(c int) Options {
	o.Concurrency = c
	o.Headers = slices.Clone(o.Headers)

	return o
}

// Label returns the page name, falling back to the URL.
func (o Options) Label() string {
	if o.Name != "" {
		return o.Name
	}

	return o.URL
}

// Args builds the ab argument vector for o.
func (o Options) Args() []string {
	args := []string{
		"-n", fmt.Sprint(o.NumRequests),
		"-c", fmt.Sprint(o.Concurrency),
	}

	if o.KeepAlive {
		args = append(args, "-k")
	}

	if o.TimeoutSeconds > 0 {
		args = append(args, "-s", fmt.Sprint(o.TimeoutSeconds))
	}

	for _, h := range o.Headers {
		args = append(args, "-H", h)
	}

	return append(args, o.URL)
}

// Result holds the parsed output of one ab run.
type Result struct {
	RunID             string        `json:"run_id"`
	Options           Options       `json:"options"`
	AvgResponseTime   float64       `json:"avg_response_time_ms"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	CompleteRequests  int           `json:"complete_requests"`
	FailedRequests    int           `json:"failed_requests"`
	TransferRateKBps  float64       `json:"transfer_rate_kbps"`
	Elapsed           time.Duration `json:"elapsed"`
}

// ExecutionError reports a failed or unparseable ab run.
type ExecutionError struct {
	Options Options
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("benchmark %s at concurrency %d: %v",
		e.Options.Label(), e.Options.Concurrency, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
