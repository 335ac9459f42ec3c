package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/observability"
)

func TestObservabilityCountsGradingRequests(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Use(Observability(zerolog.Nop()))
	app.Post("/api/v2/grading/batches", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusBadRequest)
	})
	app.Get("/other", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	requests := observability.APIRequests().WithLabelValues(http.MethodPost, "/api/v2/grading/batches", "400")
	errorsBefore := testutil.ToFloat64(observability.APIErrors().WithLabelValues(http.MethodPost, "/api/v2/grading/batches", "400"))
	before := testutil.ToFloat64(requests)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/grading/batches", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, "req-1", resp.Header.Get("X-Correlation-ID"))

	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/other", nil), -1)
	require.NoError(t, err)

	require.Equal(t, before+1, testutil.ToFloat64(requests))
	require.Equal(t, errorsBefore+1, testutil.ToFloat64(observability.APIErrors().WithLabelValues(http.MethodPost, "/api/v2/grading/batches", "400")))
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "<=1s", latencyBucket(0))
	require.Equal(t, ">5m", latencyBucket(6*60*1e9))
}
