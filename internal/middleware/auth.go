package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

// Context keys set by the auth middlewares.
const (
	ContextUserUID   = "userUID"
	ContextUserEmail = "userEmail"
	ContextAuthToken = "authToken"
)

// TokenVerifier is the part of the Firebase auth client used here.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*auth.Token, error)
}

// RequireAuth verifies a Firebase ID token from the Authorization header, or
// falls back to the session cookie set by the web app.
func RequireAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Authentication is not configured")
			}
			ctx := c.Request().Context()

			if bearer := bearerToken(c.Request()); bearer != "" {
				token, err := verifier.VerifyIDToken(ctx, bearer)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
				}
				setUser(c, token)
				c.Set(ContextAuthToken, bearer)
				return next(c)
			}

			cookie, err := c.Cookie("session")
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
			}
			token, err := verifier.VerifySessionCookie(ctx, cookie.Value)
			if err != nil {
				c.SetCookie(&http.Cookie{
					Name:     "session",
					Value:    "",
					MaxAge:   -1,
					HttpOnly: true,
					Path:     "/",
				})
				return echo.NewHTTPError(http.StatusUnauthorized, "Session expired")
			}
			setUser(c, token)
			return next(c)
		}
	}
}

// RequireRelayAuth guards the relay function. It accepts a Firebase ID token
// or the shared anonymous key.
func RequireRelayAuth(verifier TokenVerifier, anonKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bearer := bearerToken(c.Request())
			if bearer == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing bearer token")
			}
			if anonKey != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(anonKey)) == 1 {
				return next(c)
			}
			if verifier == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid bearer token")
			}
			token, err := verifier.VerifyIDToken(c.Request().Context(), bearer)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid bearer token")
			}
			setUser(c, token)
			return next(c)
		}
	}
}

func setUser(c echo.Context, token *auth.Token) {
	c.Set(ContextUserUID, token.UID)
	if email, ok := token.Claims["email"].(string); ok {
		c.Set(ContextUserEmail, email)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
