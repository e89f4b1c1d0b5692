package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "svc"})

	log.WithOperation("pipeline").WithJob("job-1", 42).Info().Str("stage", "ocr_processing").Msg("Stage checkpoint")
	log.Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "svc", entry["service"])
	assert.Equal(t, "pipeline", entry["operation"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.EqualValues(t, 42, entry["lesson_id"])
	assert.Equal(t, "ocr_processing", entry["stage"])
	assert.Equal(t, "info", entry["level"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"WARNING": "warn",
		"error":   "error",
		"":        "info",
		"bogus":   "info",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in).String(), in)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.JobsStarted.Inc()
	m.JobsFinished.WithLabelValues("completed").Inc()
	m.ObserveStage("ocr_processing", 2*time.Second, nil)
	m.ObserveStage("ocr_processing", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "lesson_digitizer_jobs_started_total 1")
	assert.Contains(t, rec.Body.String(), `lesson_digitizer_stage_duration_seconds_count{outcome="error",stage="ocr_processing"} 1`)
}
