// Package config holds the global default options and the per-page
// overrides layered on top of them.
package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/weiihann/abcrunch/harness"
)

// Defaults returns the built-in global options.
func Defaults() harness.Options {
	return harness.Options{
		Concurrency:        1,
		NumRequests:        50,
		NumBaselineRuns:    5,
		NumConcurrencyRuns: 3,
		PercentMargin:      0.2,
		MaxLatency:         1000,
	}
}

// PageOptions is a partial set of options. A nil field is absent and
// keeps the value it is merged over.
type PageOptions struct {
	Name               *string  `yaml:"name,omitempty"`
	URL                *string  `yaml:"url,omitempty"`
	Concurrency        *int     `yaml:"concurrency,omitempty"`
	NumRequests        *int     `yaml:"num_requests,omitempty"`
	NumBaselineRuns    *int     `yaml:"num_baseline_runs,omitempty"`
	NumConcurrencyRuns *int     `yaml:"num_concurrency_runs,omitempty"`
	PercentMargin      *float64 `yaml:"percent_margin,omitempty"`
	MaxLatency         *float64 `yaml:"max_latency,omitempty"`
	KeepAlive          *bool    `yaml:"keep_alive,omitempty"`
	Headers            []string `yaml:"headers,omitempty"`
	TimeoutSeconds     *int     `yaml:"timeout_seconds,omitempty"`
}

// Merge returns base with every present field of page applied.
// Neither argument is modified.
func Merge(base harness.Options, page PageOptions) harness.Options {
	out := base
	out.Headers = slices.Clone(base.Headers)

	set(&out.Name, page.Name)
	set(&out.URL, page.URL)
	set(&out.Concurrency, page.Concurrency)
	set(&out.NumRequests, page.NumRequests)
	set(&out.NumBaselineRuns, page.NumBaselineRuns)
	set(&out.NumConcurrencyRuns, page.NumConcurrencyRuns)
	set(&out.PercentMargin, page.PercentMargin)
	set(&out.MaxLatency, page.MaxLatency)
	set(&out.KeepAlive, page.KeepAlive)
	set(&out.TimeoutSeconds, page.TimeoutSeconds)

	if page.Headers != nil {
		out.Headers = slices.Clone(page.Headers)
	}

	return out
}

// Overlay returns page with every present field of top applied.
func Overlay(page, top PageOptions) PageOptions {
	out := page

	overlay(&out.Name, top.Name)
	overlay(&out.URL, top.URL)
	overlay(&out.Concurrency, top.Concurrency)
	overlay(&out.NumRequests, top.NumRequests)
	overlay(&out.NumBaselineRuns, top.NumBaselineRuns)
	overlay(&out.NumConcurrencyRuns, top.NumConcurrencyRuns)
	overlay(&out.PercentMargin, top.PercentMargin)
	overlay(&out.MaxLatency, top.MaxLatency)
	overlay(&out.KeepAlive, top.KeepAlive)
	overlay(&out.TimeoutSeconds, top.TimeoutSeconds)

	if top.Headers != nil {
		out.Headers = top.Headers
	}

	return out
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func overlay[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Ptr returns a pointer to v, for building PageOptions literals.
func Ptr[T any](v T) *T {
	return &v
}

// ConfigError reports an option that is missing or invalid after merge.
type ConfigError struct {
	Page   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Page == "" {
		return fmt.Sprintf("invalid option %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("page %s: invalid option %s: %s", e.Page, e.Field, e.Reason)
}

// Validate checks that opts is fully resolved and internally consistent.
func Validate(opts harness.Options) error {
	fail := func(field, reason string) error {
		return &ConfigError{Page: opts.Name, Field: field, Reason: reason}
	}

	switch {
	case opts.URL == "":
		return fail("url", "is required")
	case opts.NumRequests <= 0:
		return fail("num_requests", "must be positive")
	case opts.Concurrency <= 0:
		return fail("concurrency", "must be positive")
	case opts.Concurrency > opts.NumRequests:
		return fail("concurrency", "must not exceed num_requests")
	case opts.NumBaselineRuns <= 0:
		return fail("num_baseline_runs", "must be positive")
	case opts.NumConcurrencyRuns <= 0:
		return fail("num_concurrency_runs", "must be positive")
	case opts.PercentMargin < 0:
		return fail("percent_margin", "must not be negative")
	case opts.MaxLatency <= 0:
		return fail("max_latency", "must be positive")
	case opts.TimeoutSeconds < 0:
		return fail("timeout_seconds", "must not be negative")
	}

	return nil
}

// File is the on-disk configuration: a defaults layer and the pages to
// search.
type File struct {
	Defaults PageOptions   `yaml:"defaults"`
	Pages    []PageOptions `yaml:"pages"`
}

// Base returns the built-in defaults with the file's defaults applied.
func (f *File) Base() harness.Options {
	return Merge(Defaults(), f.Defaults)
}

// Load reads a File from the YAML document at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(file.Pages) == 0 {
		return nil, fmt.Errorf("invalid config: at least one page is required")
	}

	return &file, nil
}
