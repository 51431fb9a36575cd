package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("", reg)

	m.RecordStage("claim", "done")
	m.RecordStage("claim", "done")
	m.RecordSubmission("claim")
	m.RecordVenueQuote("avnu", "ok")
	m.RecordRPCLatency("starknet_call", 0.1, errors.New("x"))
	m.RecordBatchRun("success", 12, 1700000000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageOutcomes.WithLabelValues("claim", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxSubmitted.WithLabelValues("claim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VenueQuotes.WithLabelValues("avnu", "ok")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccessfulBatch))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "stark_claimer_stage_outcomes_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordStage("claim", "done")
	m.RecordSubmission("claim")
	m.RecordRevert("claim")
	m.RecordBalancePoll("ETH")
	m.RecordVenueQuote("avnu", "ok")
	m.RecordVenueSelection("avnu")
	m.RecordRPCLatency("m", 1, nil)
	m.RecordFailover("e")
	m.RecordWallet("done")
	m.RecordBatchRun("success", 1, 1)
}
