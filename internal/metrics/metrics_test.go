package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft.ai/internal/sim/audit"
)

func sampleAudit() audit.StepAudit {
	rec := audit.NewRecorder(0)
	rec.AddReducer("inflation")
	rec.CaptureFieldChange("countries.USA.macro.inflation", 0.05, 0.04, "inflation", nil, nil)
	rec.CaptureFieldChange("countries.EUR.macro.inflation", 0.05, 0.04, "inflation", nil, nil)
	rec.AddTriggerFired("hike")
	rec.AddError(audit.Error{Kind: audit.KindValidation, Source: "trigger", Message: "bad"})
	return rec.Finalize()
}

func TestObserveTurn(t *testing.T) {
	r := New()
	r.ObserveTurn("mini", 3*time.Millisecond, sampleAudit())
	r.ObserveTurn("mini", time.Millisecond, audit.StepAudit{})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Turns.WithLabelValues("mini")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.FieldChanges.WithLabelValues("inflation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TriggersFired.WithLabelValues("hike")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Errors.WithLabelValues("validation", "trigger")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.StepDuration))
}

func TestHandler_ServesText(t *testing.T) {
	r := New()
	r.ObserveTurn("mini", time.Millisecond, sampleAudit())

	rw := httptest.NewRecorder()
	r.Handler().ServeHTTP(rw, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rw.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `statecraft_turns_total{scenario="mini"} 1`)
	assert.Contains(t, string(body), "statecraft_step_duration_seconds_count 1")
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveTurn("x", time.Second, sampleAudit())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveTurn("s", 0, audit.StepAudit{})
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Turns.WithLabelValues("s")))
}
