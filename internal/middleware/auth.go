package middleware

import (
	"context"
	"errors"
	"strings"

	"bloodbooth/internal/config"
	"bloodbooth/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

var (
	errMissingToken  = errors.New("missing token")
	errInvalidHeader = errors.New("invalid authorization header format")
	errInvalidToken  = errors.New("invalid or expired token")
	errMissingSubj   = errors.New("invalid token structure - missing subject")
)

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// ParseToken validates an HMAC-signed token and returns its subject.
func ParseToken(tokenString string) (string, error) {
	if cfg == nil {
		return "", errors.New("auth middleware not initialized")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errMissingSubj
	}
	return sub, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errInvalidHeader
	}
	return parts[1], nil
}

func setUser(c *fiber.Ctx, userID string) {
	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))
}

func unauthorized(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(err.Error()))
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		if errors.Is(err, errMissingToken) {
			return unauthorized(c, errors.New("Authorization header required"))
		}
		return unauthorized(c, err)
	}
	userID, err := ParseToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}
	setUser(c, userID)
	return c.Next()
}

// OptionalAuth attaches the caller's identity when a bearer token is sent.
// Requests without a token pass through unless AUTH_REQUIRED is set; a token that fails validation is always rejected.
func OptionalAuth(c *fiber.Ctx) error {
	if c.Get("Authorization") == "" && (cfg == nil || !cfg.AuthRequired) {
		return c.Next()
	}
	return AuthRequired(c)
}

// WebSocketAuthRequired is middleware that validates JWT tokens from query parameters for WebSocket connections.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	tokenString := c.Query("token")
	if tokenString == "" {
		var err error
		tokenString, err = bearerToken(c)
		if err != nil {
			return unauthorized(c, errors.New("Token required"))
		}
	}
	userID, err := ParseToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}
	setUser(c, userID)
	return c.Next()
}
