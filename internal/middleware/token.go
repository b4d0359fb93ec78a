package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenOK reports whether r carries token as ?token=, "Authorization: Bearer", or X-Auth-Token.
// An empty token accepts everything.
func TokenOK(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("token"); q != "" && q == token {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == token {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == token {
		return true
	}
	return false
}

// TokenAuth rejects requests that do not carry token.
func TokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !TokenOK(c.Request(), token) {
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}
