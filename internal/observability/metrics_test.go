package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "NOT_FOUND")
		m.RecordTransaction("committed")
		m.RecordTokenConsumption("setup", "consumed")
	})
}

func TestCountersRecord(t *testing.T) {
	m := NewMetrics()
	m.RecordTransaction("committed")
	m.RecordTransaction("committed")
	m.RecordTransaction("CONFLICT")
	m.RecordTokenConsumption("setup", "EXPIRED_TOKEN")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactions.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("CONFLICT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenConsumptions.WithLabelValues("setup", "EXPIRED_TOKEN")))
}

func TestRequestLoggerAndHandler(t *testing.T) {
	m := NewMetrics()
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), m))
	app.Get("/accounts/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/accounts/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/accounts/:id", "GET", "204")))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `accounts_http_requests_total{method="GET",path="/accounts/:id",status="204"} 1`)
}
