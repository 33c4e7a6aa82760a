package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDoesNotPanicOnMultipleInstances(t *testing.T) {
	require.NotPanics(t, func() {
		New()
		New()
	})
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ProbeOutcomes.WithLabelValues("accepted").Inc()
	m.LedgerCostBRL.WithLabelValues("llm").Add(12.5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "quotepipe_probe_outcomes_total")
	assert.Contains(t, body, "quotepipe_ledger_cost_brl_total")
}
