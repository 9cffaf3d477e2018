package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector("ledger")

	c.ObserveHTTP(http.MethodGet, "/pages/{slug}", 200, 5*time.Millisecond)
	c.ObserveHTTP(http.MethodGet, "/pages/{slug}", 200, 5*time.Millisecond)
	c.AuditFailure("page_deleted")
	c.SweepResult(2, 1)
	c.BulkFailure("expire", 3)
	c.BulkFailure("expire", 0)
	c.Purged(4)

	require.Equal(t, 2.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/pages/{slug}", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.AuditFailures.WithLabelValues("page_deleted")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.SweepPagesDeleted))
	require.Equal(t, 1.0, testutil.ToFloat64(c.SweepPageFailures))
	require.Equal(t, 3.0, testutil.ToFloat64(c.BulkFailures.WithLabelValues("expire")))
	require.Equal(t, 4.0, testutil.ToFloat64(c.MemoriesPurged))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	require.NotPanics(t, func() {
		c.ObserveHTTP("GET", "/", 200, time.Millisecond)
		c.AuditFailure("x")
		c.SweepResult(1, 1)
		c.BulkFailure("x", 1)
		c.Purged(1)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("ledger")
	c.AuditFailure("owner_assigned")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `ledger_audit_write_failures_total{action="owner_assigned"} 1`)
}
