package monitor

import (
	iface "CDEvalServer/interface"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor(t *testing.T) {
	t.Run("Test ScalarWriter", func(t *testing.T) {
		require.NoError(t, ScalarWriter{}.AddScalar("test/loss", 0.42, 3))
		assert.InDelta(t, 0.42, testutil.ToFloat64(EvalScalar.WithLabelValues("test/loss")), 1e-9)
	})

	t.Run("Test ObserveRun", func(t *testing.T) {
		okBefore := testutil.ToFloat64(EvalRuns.WithLabelValues("ok"))
		errBefore := testutil.ToFloat64(EvalRuns.WithLabelValues("error"))
		ObserveRun(iface.MetricSet{"f1": 0.8}, nil)
		ObserveRun(nil, errors.New("boom"))
		assert.Equal(t, okBefore+1, testutil.ToFloat64(EvalRuns.WithLabelValues("ok")))
		assert.Equal(t, errBefore+1, testutil.ToFloat64(EvalRuns.WithLabelValues("error")))
		assert.InDelta(t, 0.8, testutil.ToFloat64(EvalMetric.WithLabelValues("f1")), 1e-9)
	})

	t.Run("Test ObserveBatch", func(t *testing.T) {
		before := testutil.ToFloat64(EvalBatches)
		ObserveBatch()
		assert.Equal(t, before+1, testutil.ToFloat64(EvalBatches))
	})

	t.Run("Test Handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "eval_runs_total")
		assert.Contains(t, string(body), "eval_scalar")
	})

	t.Run("Test StartMon", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
		defer cancel()
		StartMon(ctx)
		assert.Greater(t, testutil.ToFloat64(memUsage), 0.0)
	})
}
