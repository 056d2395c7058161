package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubVerifier struct {
	idTokens map[string]string
	cookies  map[string]string
}

func (s *stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if uid, ok := s.idTokens[idToken]; ok {
		return &auth.Token{UID: uid, Claims: map[string]interface{}{"email": uid + "@example.com"}}, nil
	}
	return nil, errors.New("token invalid")
}

func (s *stubVerifier) VerifySessionCookie(ctx context.Context, cookie string) (*auth.Token, error) {
	if uid, ok := s.cookies[cookie]; ok {
		return &auth.Token{UID: uid}, nil
	}
	return nil, errors.New("cookie invalid")
}

func serve(mw echo.MiddlewareFunc, prepare func(*http.Request)) (*httptest.ResponseRecorder, map[string]interface{}) {
	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(zap.NewNop())
	seen := map[string]interface{}{}
	e.GET("/", func(c echo.Context) error {
		for _, k := range []string{ContextUserUID, ContextUserEmail, ContextAuthToken} {
			seen[k] = c.Get(k)
		}
		return c.NoContent(http.StatusNoContent)
	}, mw)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	prepare(req)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireAuth(t *testing.T) {
	v := &stubVerifier{idTokens: map[string]string{"good": "u1"}, cookies: map[string]string{"sess": "u2"}}

	rec, seen := serve(RequireAuth(v), func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer good") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen[ContextUserUID])
	assert.Equal(t, "u1@example.com", seen[ContextUserEmail])
	assert.Equal(t, "good", seen[ContextAuthToken])

	rec, seen = serve(RequireAuth(v), func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "sess"}) })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u2", seen[ContextUserUID])
	assert.Nil(t, seen[ContextAuthToken])

	rec, _ = serve(RequireAuth(v), func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer bad") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(RequireAuth(v), func(r *http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Please log in to continue."}`, rec.Body.String())

	rec, _ = serve(RequireAuth(v), func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "stale"}) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestRequireRelayAuth(t *testing.T) {
	v := &stubVerifier{idTokens: map[string]string{"good": "u1"}}
	mw := RequireRelayAuth(v, "anon-key")

	rec, seen := serve(mw, func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer anon-key") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, seen[ContextUserUID])

	rec, seen = serve(mw, func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer good") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen[ContextUserUID])

	rec, _ = serve(mw, func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer anon-key-2") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(mw, func(r *http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
