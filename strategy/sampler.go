// Package strategy searches for the highest ab concurrency a page can
// sustain before its average response time degrades.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weiihann/abcrunch/harness"
)

// Executor runs one benchmark. *harness.Runner satisfies it.
type Executor interface {
	Run(ctx context.Context, opts harness.Options) (*harness.Result, error)
}

// Sampler repeats a benchmark and keeps the fastest run.
type Sampler struct {
	Executor Executor
	Logger   *slog.Logger
}

// NewSampler creates a Sampler around exec. A nil logger discards.
func NewSampler(exec Executor, logger *slog.Logger) *Sampler {
	return &Sampler{Executor: exec, Logger: orDiscard(logger)}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return logger
}

// Best runs opts n times and returns the result with the lowest average
// response time. The first failure aborts the whole sample.
func (s *Sampler) Best(
	ctx context.Context,
	n int,
	opts harness.Options,
) (*harness.Result, error) {
	if n < 1 {
		return nil, fmt.Errorf("sample count must be at least 1, got %d", n)
	}

	results := make([]*harness.Result, 0, n)

	for i := 0; i < n; i++ {
		result, err := s.Executor.Run(ctx, opts)
		if err != nil {
			var execErr *harness.ExecutionError
			if errors.As(err, &execErr) {
				return nil, err
			}

			return nil, &harness.ExecutionError{Options: opts, Err: err}
		}

		s.Logger.DebugContext(ctx, "sample",
			slog.String("page", opts.Label()),
			slog.Int("concurrency", opts.Concurrency),
			slog.Int("attempt", i+1),
			slog.Float64("avg_response_time_ms", result.AvgResponseTime),
		)

		results = append(results, result)
	}

	return Fastest(results), nil
}

// Fastest returns the result with the lowest average response time, or
// nil for an empty slice. Ties go to the earliest result.
func Fastest(results []*harness.Result) *harness.Result {
	var best *harness.Result

	for _, r := range results {
		if best == nil || r.AvgResponseTime < best.AvgResponseTime {
			best = r
		}
	}

	return best
}
