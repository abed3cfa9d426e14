package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/abcrunch/config"
	"github.com/weiihann/abcrunch/strategy"
)

const fakeReport = `Complete requests:      3
Failed requests:        0
Requests per second:    250.00 [#/sec] (mean)
Time per request:       4.000 [ms] (mean)
Time per request:       4.000 [ms] (mean, across all concurrent requests)
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := newRootCmd(logger, new(slog.LevelVar))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func fakeAB(t *testing.T) string {
	t.Helper()

	return writeFakeAB(t, "")
}

// fakeABRecordingArgs returns a fake ab that appends each argument it
// receives, one per line, to argsFile.
func fakeABRecordingArgs(t *testing.T, argsFile string) string {
	t.Helper()

	return writeFakeAB(t, "printf '%s\\n' \"$@\" >> '"+argsFile+"'\n")
}

func writeFakeAB(t *testing.T, prelude string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	path := filepath.Join(t.TempDir(), "ab")
	script := "#!/bin/sh\n" + prelude + "cat <<'EOF'\n" + fakeReport + "EOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func TestRunSingleURL(t *testing.T) {
	out, err := execute(t, "run",
		"--ab", fakeAB(t),
		"--url", "http://localhost:8080/",
		"--name", "home",
		"-n", "3",
		"--num-baseline-runs", "1",
		"--num-concurrency-runs", "2",
		"--json",
	)
	require.NoError(t, err)

	var outcomes []strategy.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes))
	require.Len(t, outcomes, 1)

	got := outcomes[0]
	assert.Equal(t, "home", got.Options.Name)
	assert.Equal(t, strategy.StopSaturated, got.Stop)
	assert.Equal(t, 3, got.Best.Options.Concurrency)
	assert.InDelta(t, 4.0, got.Best.AvgResponseTime, 1e-9)
	assert.Len(t, got.Steps, 3)
}

func TestRunConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abcrunch.yaml")
	data := []byte(`defaults:
  num_requests: 10
  num_baseline_runs: 1
  num_concurrency_runs: 1
pages:
  - name: home
    url: http://localhost:8080/
  - name: about
    url: http://localhost:8080/about
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := execute(t, "run", "--ab", fakeAB(t), "-f", path, "-n", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "## Best Concurrency")
	assert.Contains(t, out, "| home | http://localhost:8080/ |")
	assert.Contains(t, out, "| about | http://localhost:8080/about |")
	assert.Contains(t, out, "| 2 | 4.00ms | 250.00 | saturated |")
}

func TestRunHeaderWithComma(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")

	_, err := execute(t, "run",
		"--ab", fakeABRecordingArgs(t, argsFile),
		"--url", "http://localhost:8080/",
		"-n", "1",
		"--num-baseline-runs", "1",
		"--num-concurrency-runs", "1",
		"-H", "Accept: text/html, application/json",
		"-H", "X-Trace: a,b",
	)
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)

	args := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	// One baseline run and one sweep run, each with identical argv.
	want := []string{
		"-n", "1", "-c", "1",
		"-H", "Accept: text/html, application/json",
		"-H", "X-Trace: a,b",
		"http://localhost:8080/",
	}
	assert.Equal(t, append(append([]string{}, want...), want...), args)
}

func TestRunRequiresTarget(t *testing.T) {
	_, err := execute(t, "run")
	assert.ErrorContains(t, err, "--config or --url")
}

func TestRunInvalidOptions(t *testing.T) {
	_, err := execute(t, "run", "--ab", fakeAB(t), "--url", "http://x/", "-n", "0")

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "num_requests", cfgErr.Field)
}

func TestDefaultsCommand(t *testing.T) {
	out, err := execute(t, "defaults")
	require.NoError(t, err)

	assert.Contains(t, out, "num_requests: 50")
	assert.Contains(t, out, "num_baseline_runs: 5")
	assert.Contains(t, out, "percent_margin: 0.2")
}
