package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRequireRoleGuardsPromptManagement(t *testing.T) {
	cases := []struct {
		role   interface{}
		status int
	}{
		{"admin", fiber.StatusOK},
		{" Teacher ", fiber.StatusOK},
		{"student", fiber.StatusForbidden},
		{nil, fiber.StatusForbidden},
	}

	for _, tc := range cases {
		app := fiber.New()
		role := tc.role
		app.Use(func(c *fiber.Ctx) error {
			if role != nil {
				c.Locals("user_role", role)
			}
			return c.Next()
		})
		app.Use(RequireRole("admin", "TEACHER", " "))
		app.Get("/prompts/math", func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/prompts/math", nil), -1)
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, "role %v", tc.role)

		if tc.status == fiber.StatusForbidden {
			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var payload struct {
				Details struct {
					AllowedRoles []string `json:"allowed_roles"`
				} `json:"details"`
			}
			require.NoError(t, json.Unmarshal(raw, &payload))
			require.Equal(t, []string{"admin", "teacher"}, payload.Details.AllowedRoles)
		}
	}
}

func TestCorrelationIDReplacesOverlongHeader(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, GetCorrelationID(c), CorrelationIDFromContext(c.UserContext()))
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", strings.Repeat("x", maxCorrelationLength+1))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	id := resp.Header.Get("X-Correlation-ID")
	require.NotEmpty(t, id)
	require.LessOrEqual(t, len(id), maxCorrelationLength)
}
