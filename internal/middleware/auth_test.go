package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloodbooth/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func generateToken(t *testing.T, sub, issuer string, exp time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": issuer,
		"exp": time.Now().Add(exp).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newAuthApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/test", handler, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(string)
		ctxUser, _ := c.UserContext().Value(UserIDKey).(string)
		return c.JSON(fiber.Map{"userID": userID, "ctxUserID": ctxUser})
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret, JWTIssuer: "bloodbooth-api"})
	app := newAuthApp(AuthRequired)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID string
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + generateToken(t, "user-123", "bloodbooth-api", time.Hour),
			expectedStatus: http.StatusOK,
			expectedUserID: "user-123",
		},
		{
			name:           "Missing Header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed Token",
			authHeader:     "Bearer malformed.token.here",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + generateToken(t, "user-123", "bloodbooth-api", -time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Issuer",
			authHeader:     "Bearer " + generateToken(t, "user-123", "someone-else", time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Empty Subject",
			authHeader:     "Bearer " + generateToken(t, "", "bloodbooth-api", time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			var result map[string]any
			require.NoError(t, json.Unmarshal(body, &result))
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedUserID, result["userID"])
				assert.Equal(t, tt.expectedUserID, result["ctxUserID"])
			} else {
				assert.Equal(t, "UNAUTHORIZED", result["code"])
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	t.Run("anonymous passes when auth is optional", func(t *testing.T) {
		InitMiddleware(&config.Config{JWTSecret: testSecret})
		app := newAuthApp(OptionalAuth)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("anonymous rejected when auth is required", func(t *testing.T) {
		InitMiddleware(&config.Config{JWTSecret: testSecret, AuthRequired: true})
		app := newAuthApp(OptionalAuth)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bad token rejected even when auth is optional", func(t *testing.T) {
		InitMiddleware(&config.Config{JWTSecret: testSecret})
		app := newAuthApp(OptionalAuth)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer nope")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestWebSocketAuthRequired(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret})
	app := newAuthApp(WebSocketAuthRequired)

	t.Run("query token", func(t *testing.T) {
		token := generateToken(t, "donor-7", "", time.Hour)
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test?token="+token, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
