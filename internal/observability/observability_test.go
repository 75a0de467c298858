package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordVerification(ResultOK, 2*time.Millisecond)
	m.RecordVerification(ResultOK, time.Millisecond)
	m.RecordVerification("expired", time.Millisecond)
	m.RecordKeySetRefresh(nil, 3)
	m.RecordKeySetRefresh(errors.New("boom"), 0)
	m.RecordKeyLookup(true)
	m.RecordKeyLookup(false)
	m.RecordKeyLookup(true)
	m.RecordHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keySetRefreshes.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keySetRefreshes.WithLabelValues(ResultError)))
	// a failed refresh leaves the gauge at the last good key count
	assert.Equal(t, 3.0, testutil.ToFloat64(m.keySetKeys))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.keyLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keyLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/healthz", "200")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordVerification(ResultOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `api_auth_token_verifications_total{result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RecordKeyLookup(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.keyLookups.WithLabelValues("hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.keyLookups.WithLabelValues("hit")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordVerification(ResultOK, time.Millisecond)
		m.RecordKeySetRefresh(nil, 1)
		m.RecordKeyLookup(false)
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "json info", level: "info", format: "json", want: zapcore.InfoLevel},
		{name: "text debug", level: "debug", format: "text", want: zapcore.DebugLevel},
		{name: "upper case", level: "WARN", format: "JSON", want: zapcore.WarnLevel},
		{name: "unknown level", level: "verbose", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}
