package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/abcrunch/harness"
	"github.com/weiihann/abcrunch/strategy"
)

func result(c int, ms, rps float64) *harness.Result {
	return &harness.Result{
		Options:           harness.Options{Name: "home", URL: "http://localhost/", Concurrency: c},
		AvgResponseTime:   ms,
		RequestsPerSecond: rps,
	}
}

func sampleOutcome() strategy.Outcome {
	best := result(2, 11.5, 173.9)

	return strategy.Outcome{
		Options:   harness.Options{Name: "home", URL: "http://localhost/", Concurrency: 1},
		Baseline:  result(1, 10, 100),
		Threshold: 12,
		Steps: []strategy.Step{
			{Concurrency: 1, Result: result(1, 10.2, 98)},
			{Concurrency: 2, Result: best},
			{Concurrency: 3, Result: result(3, 1500, 2), Degraded: true},
		},
		Best: best,
		Stop: strategy.StopDegraded,
	}
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, []strategy.Outcome{sampleOutcome()}))

	output := buf.String()

	assert.Contains(t, output, "| home | http://localhost/ | 10.00ms | 12.00ms | 2 | 11.50ms | 173.90 | degraded |")
	assert.Contains(t, output, "### home")
	assert.Contains(t, output, "| 3 | 1.50s | 2.00 | 0 | yes |")
	assert.Equal(t, 1, strings.Count(output, "| yes |"))
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Generate(&buf, nil))
}

func TestGenerateIncomplete(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Generate(&buf, []strategy.Outcome{{}}))
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateJSON(&buf, []strategy.Outcome{sampleOutcome()}))

	var parsed []strategy.Outcome
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))

	require.Len(t, parsed, 1)
	assert.Equal(t, strategy.StopDegraded, parsed[0].Stop)
	assert.Equal(t, 2, parsed[0].Best.Options.Concurrency)
	assert.Len(t, parsed[0].Steps, 3)
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0.00ms"},
		{0.96, "0.96ms"},
		{999.4, "999.40ms"},
		{1000, "1.00s"},
		{1500, "1.50s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatMs(tt.input), "formatMs(%v)", tt.input)
	}
}
