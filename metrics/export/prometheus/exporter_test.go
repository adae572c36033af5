package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abctrading/tradeauth"
)

type fakeSource struct {
	snapshot tradeauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tradeauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func scrape(t *testing.T, src MetricsSource) string {
	t.Helper()
	h, err := NewCollectorFromSource(src).Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorRendersCountersAndHistograms(t *testing.T) {
	out := scrape(t, fakeSource{
		snapshot: tradeauth.MetricsSnapshot{
			Counters: map[tradeauth.MetricID]uint64{
				tradeauth.MetricLoginSuccess:         7,
				tradeauth.MetricRefreshReuseDetected: 2,
			},
			Histograms: map[tradeauth.MetricID][]uint64{
				tradeauth.MetricRefreshLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	assert.Contains(t, out, "tradeauth_login_success_total 7")
	assert.Contains(t, out, "tradeauth_refresh_reuse_detected_total 2")
	assert.Contains(t, out, `tradeauth_refresh_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `tradeauth_refresh_latency_seconds_bucket{le="0.5"} 28`)
	assert.Contains(t, out, `tradeauth_refresh_latency_seconds_bucket{le="+Inf"} 36`)
	assert.Contains(t, out, "tradeauth_refresh_latency_seconds_count 36")
	assert.Contains(t, out, "tradeauth_audit_dropped_total 2")
	assert.NotContains(t, out, "tradeauth_login_latency_seconds_bucket")
}

func TestCollectorZeroCountersWhenIdle(t *testing.T) {
	out := scrape(t, fakeSource{snapshot: tradeauth.MetricsSnapshot{
		Counters:   map[tradeauth.MetricID]uint64{},
		Histograms: map[tradeauth.MetricID][]uint64{},
	}})
	assert.Contains(t, out, "tradeauth_logout_total 0")
	assert.False(t, strings.Contains(out, "_bucket"))
}

func TestHandlerRejectsDuplicateCollectors(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{})
	_, err := c.Handler(c)
	assert.Error(t, err)

	_, err = c.Handler(collectors.NewGoCollector())
	assert.NoError(t, err)
}

func BenchmarkCollect(b *testing.B) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: tradeauth.MetricsSnapshot{
			Counters: map[tradeauth.MetricID]uint64{
				tradeauth.MetricLoginSuccess:   1000,
				tradeauth.MetricLoginFailure:   40,
				tradeauth.MetricRefreshSuccess: 800,
				tradeauth.MetricRefreshFailure: 10,
			},
			Histograms: map[tradeauth.MetricID][]uint64{
				tradeauth.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch := make(chan prometheus.Metric, 64)
		c.Collect(ch)
		close(ch)
	}
}
