package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.PacketsDropped.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PacketsDropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PacketsDropped))
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.FlowDeliveries.WithLabelValues("http", "transient").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body),
		`aegisnet_flow_deliveries_total{outcome="transient",sink="http"} 1`))
}
