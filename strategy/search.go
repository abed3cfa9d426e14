package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weiihann/abcrunch/config"
	"github.com/weiihann/abcrunch/harness"
)

// StopReason records why the sweep ended.
type StopReason string

const (
	// StopDegraded means the next concurrency level exceeded the threshold.
	StopDegraded StopReason = "degraded"
	// StopSaturated means concurrency reached num_requests.
	StopSaturated StopReason = "saturated"
)

// Step is one sampled concurrency level of the sweep.
type Step struct {
	Concurrency int             `json:"concurrency"`
	Result      *harness.Result `json:"result"`
	Degraded    bool            `json:"degraded"`
}

// Outcome is the full record of one search.
type Outcome struct {
	Options   harness.Options `json:"options"`
	Baseline  *harness.Result `json:"baseline"`
	Threshold float64         `json:"threshold_ms"`
	Steps     []Step          `json:"steps"`
	Best      *harness.Result `json:"best"`
	Stop      StopReason      `json:"stop"`
}

// NoViableConcurrencyError is returned when the very first sweep step
// already exceeds the threshold.
type NoViableConcurrencyError struct {
	Result    *harness.Result
	Threshold float64
}

func (e *NoViableConcurrencyError) Error() string {
	return fmt.Sprintf(
		"%s degraded at starting concurrency %d: %.3fms exceeds threshold %.3fms",
		e.Result.Options.Label(), e.Result.Options.Concurrency,
		e.Result.AvgResponseTime, e.Threshold,
	)
}

// CalcThreshold returns the lower of the baseline plus percentMargin and
// the absolute maxLatency ceiling.
func CalcThreshold(baseAvgResponseTime, percentMargin, maxLatency float64) float64 {
	candidate := baseAvgResponseTime * (1 + percentMargin)
	if candidate < maxLatency {
		return candidate
	}

	return maxLatency
}

// Search finds the best concurrency for pages merged over Defaults.
type Search struct {
	Defaults harness.Options
	Sampler  *Sampler
	Logger   *slog.Logger
}

// NewSearch creates a Search. defaults is copied and never modified.
// A nil logger discards.
func NewSearch(defaults harness.Options, sampler *Sampler, logger *slog.Logger) *Search {
	return &Search{
		Defaults: config.Merge(defaults, config.PageOptions{}),
		Sampler:  sampler,
		Logger:   orDiscard(logger),
	}
}

// Run searches page and returns the chosen result.
func (s *Search) Run(ctx context.Context, page config.PageOptions) (*harness.Result, error) {
	outcome, err := s.Search(ctx, page)
	if err != nil {
		return nil, err
	}

	return outcome.Best, nil
}

// Search resolves page, measures a baseline, derives the threshold and
// sweeps concurrency upward one level at a time.
func (s *Search) Search(ctx context.Context, page config.PageOptions) (*Outcome, error) {
	opts := config.Merge(s.Defaults, page)
	if err := config.Validate(opts); err != nil {
		return nil, err
	}

	logger := s.Logger.With(slog.String("page", opts.Label()))

	baseline, err := s.baseline(ctx, logger, opts)
	if err != nil {
		return nil, err
	}

	threshold := CalcThreshold(baseline.AvgResponseTime, opts.PercentMargin, opts.MaxLatency)

	logger.InfoContext(ctx, "threshold",
		slog.Float64("baseline_ms", baseline.AvgResponseTime),
		slog.Float64("percent_margin", opts.PercentMargin),
		slog.Float64("max_latency_ms", opts.MaxLatency),
		slog.Float64("threshold_ms", threshold),
	)

	outcome, err := s.sweep(ctx, logger, opts, threshold)
	if err != nil {
		return nil, err
	}

	outcome.Options = opts
	outcome.Baseline = baseline

	return outcome, nil
}

func (s *Search) baseline(
	ctx context.Context,
	logger *slog.Logger,
	opts harness.Options,
) (*harness.Result, error) {
	logger.InfoContext(ctx, "measuring baseline",
		slog.Int("concurrency", opts.Concurrency),
		slog.Int("runs", opts.NumBaselineRuns),
	)

	result, err := s.Sampler.Best(ctx, opts.NumBaselineRuns, opts)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}

	return result, nil
}

func (s *Search) sweep(
	ctx context.Context,
	logger *slog.Logger,
	opts harness.Options,
	threshold float64,
) (*Outcome, error) {
	outcome := &Outcome{Threshold: threshold}

	var lastGood *harness.Result

	for c := opts.Concurrency; ; c++ {
		step := opts.WithConcurrency(c)

		result, err := s.Sampler.Best(ctx, opts.NumConcurrencyRuns, step)
		if err != nil {
			return nil, fmt.Errorf("sweep at concurrency %d: %w", c, err)
		}

		degraded := result.AvgResponseTime > threshold

		logger.InfoContext(ctx, "sweep step",
			slog.Int("concurrency", c),
			slog.Float64("avg_response_time_ms", result.AvgResponseTime),
			slog.Float64("requests_per_second", result.RequestsPerSecond),
			slog.Float64("threshold_ms", threshold),
			slog.Bool("degraded", degraded),
		)

		outcome.Steps = append(outcome.Steps, Step{
			Concurrency: c,
			Result:      result,
			Degraded:    degraded,
		})

		if degraded {
			if lastGood == nil {
				return nil, &NoViableConcurrencyError{Result: result, Threshold: threshold}
			}

			outcome.Best = lastGood
			outcome.Stop = StopDegraded

			return outcome, nil
		}

		if c >= opts.NumRequests {
			outcome.Best = result
			outcome.Stop = StopSaturated

			return outcome, nil
		}

		lastGood = result
	}
}
