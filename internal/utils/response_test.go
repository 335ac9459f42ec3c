package utils_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/utils"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Details map[string]interface{} `json:"details"`
}

func call(t *testing.T, handler fiber.Handler) (*http.Response, envelope) {
	t.Helper()
	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func TestOKCarriesListMeta(t *testing.T) {
	resp, payload := call(t, func(c *fiber.Ctx) error {
		return utils.OK(c, map[string]string{"batch_id": "b-1"}, "", map[string]int{"count": 1})
	})

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, payload.Success)
	require.Equal(t, "success", payload.Message)
	require.Equal(t, "b-1", payload.Data["batch_id"])
	require.Equal(t, float64(1), payload.Meta["count"])
	require.Nil(t, payload.Details)
}

func TestSendSuccessWithStatusDefaults(t *testing.T) {
	resp, payload := call(t, func(c *fiber.Ctx) error {
		return utils.SendSuccessWithStatus(c, 0, "", map[string]bool{"direct_consensus": true})
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "success", payload.Message)

	resp, payload = call(t, func(c *fiber.Ctx) error {
		return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "batch graded", map[string]float64{"total_score": 17})
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "batch graded", payload.Message)
	require.Equal(t, float64(17), payload.Data["total_score"])
}

func TestFailCarriesDetails(t *testing.T) {
	resp, payload := call(t, func(c *fiber.Ctx) error {
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "submission rejected", map[string]string{"reason": "rubric override"})
	})

	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	require.False(t, payload.Success)
	require.Equal(t, "submission rejected", payload.Message)
	require.Equal(t, "rubric override", payload.Details["reason"])
	require.Nil(t, payload.Data)

	resp, payload = call(t, func(c *fiber.Ctx) error {
		return utils.SendError(c, fiber.StatusBadGateway, "grading agents unavailable")
	})
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "grading agents unavailable", payload.Message)
}
