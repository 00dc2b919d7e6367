package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const contextIdentityKey = "identity"

var (
	errMissingToken = echo.NewHTTPError(http.StatusUnauthorized, "Authorization token required")
	errBadToken     = echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	errForbidden    = echo.NewHTTPError(http.StatusForbidden, "Permission denied")
)

// Middleware requires a valid bearer token and stores the Identity on the context.
func Middleware(v *Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return errMissingToken
			}
			id, err := v.Verify(header)
			if err != nil {
				return errBadToken.WithInternal(err)
			}
			c.Set(contextIdentityKey, id)
			return next(c)
		}
	}
}

// RequireRole lets the request through only for the listed roles.
// An empty list allows every authenticated caller.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := FromContext(c)
			if !ok {
				return errMissingToken
			}
			if len(roles) == 0 {
				return next(c)
			}
			for _, role := range roles {
				if id.Role == role {
					return next(c)
				}
			}
			return errForbidden
		}
	}
}

// FromContext returns the identity set by Middleware.
func FromContext(c echo.Context) (Identity, bool) {
	id, ok := c.Get(contextIdentityKey).(Identity)
	return id, ok
}
