package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"ollamaswarm/internal/core"
)

// AuthMiddleware checks the Bearer token against masterKey.
// An empty masterKey lets every request through.
func AuthMiddleware(masterKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorized(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return unauthorized(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return unauthorized(c, "invalid master key")
			}

			return next(c)
		}
	}
}

func unauthorized(c echo.Context, msg string) error {
	err := core.NewAuthenticationError(msg)
	return c.JSON(err.HTTPStatusCode(), err.ToJSON())
}
