package harness

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Runner invokes the ab binary once per call to Run.
type Runner struct {
	BinaryPath string
	Logger     *slog.Logger
}

// NewRunner creates a Runner for the given ab binary.
func NewRunner(binaryPath string, logger *slog.Logger) *Runner {
	return &Runner{
		BinaryPath: binaryPath,
		Logger:     logger.With(slog.String("binary", binaryPath)),
	}
}

// Run executes ab once with opts and returns the parsed report.
// Every failure is an *ExecutionError.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	runID := uuid.NewString()

	cmd := exec.CommandContext(ctx, r.BinaryPath, opts.Args()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.DebugContext(ctx, "starting ab",
		slog.String("run_id", runID),
		slog.String("url", opts.URL),
		slog.Int("concurrency", opts.Concurrency),
		slog.Int("num_requests", opts.NumRequests),
	)

	wallStart := time.Now()

	if err := cmd.Run(); err != nil {
		return nil, &ExecutionError{
			Options: opts,
			Err:     fmt.Errorf("ab failed: %w\nstderr: %s", err, stderr.String()),
		}
	}

	wallElapsed := time.Since(wallStart)

	result, err := parseResult(&stdout)
	if err != nil {
		return nil, &ExecutionError{
			Options: opts,
			Err:     fmt.Errorf("parse ab output: %w\nstdout: %s", err, stdout.String()),
		}
	}

	result.RunID = runID
	result.Options = opts
	result.Elapsed = wallElapsed

	if result.FailedRequests > 0 {
		r.Logger.WarnContext(ctx, "ab reported failed requests",
			slog.String("run_id", runID),
			slog.Int("failed", result.FailedRequests),
		)
	}

	r.Logger.DebugContext(ctx, "ab finished",
		slog.String("run_id", runID),
		slog.Float64("avg_response_time_ms", result.AvgResponseTime),
		slog.Duration("wall_time", wallElapsed),
	)

	return result, nil
}

var (
	reMeanTime    = regexp.MustCompile(`^Time per request:\s+([\d.]+) \[ms\] \(mean\)$`)
	reRPS         = regexp.MustCompile(`^Requests per second:\s+([\d.]+)`)
	reComplete    = regexp.MustCompile(`^Complete requests:\s+(\d+)`)
	reFailed      = regexp.MustCompile(`^Failed requests:\s+(\d+)`)
	reTransfer    = regexp.MustCompile(`^Transfer rate:\s+([\d.]+) \[Kbytes/sec\]`)
	errNoMeanTime = errors.New("no mean time per request in report")
)

func parseResult(r io.Reader) (*Result, error) {
	var (
		result   Result
		sawMean  bool
		scanner  = bufio.NewScanner(r)
		parseErr error
	)

	float := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil && parseErr == nil {
			parseErr = err
		}

		return v
	}

	integer := func(s string) int {
		v, err := strconv.Atoi(s)
		if err != nil && parseErr == nil {
			parseErr = err
		}

		return v
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case reMeanTime.MatchString(line):
			if !sawMean {
				result.AvgResponseTime = float(reMeanTime.FindStringSubmatch(line)[1])
				sawMean = true
			}
		case reRPS.MatchString(line):
			result.RequestsPerSecond = float(reRPS.FindStringSubmatch(line)[1])
		case reComplete.MatchString(line):
			result.CompleteRequests = integer(reComplete.FindStringSubmatch(line)[1])
		case reFailed.MatchString(line):
			result.FailedRequests = integer(reFailed.FindStringSubmatch(line)[1])
		case reTransfer.MatchString(line):
			result.TransferRateKBps = float(reTransfer.FindStringSubmatch(line)[1])
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	if parseErr != nil {
		return nil, fmt.Errorf("parse number: %w", parseErr)
	}

	if !sawMean {
		return nil, errNoMeanTime
	}

	return &result, nil
}
