package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pairlab/pairing-server-go/internal/token"
)

type fakeVerifier struct {
	userID string
	err    error
}

func (f *fakeVerifier) Verify(tokenString string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.userID, nil
}

func TestAuthMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		m := NewAuthMiddleware(&fakeVerifier{userID: "user-1"})

		req := httptest.NewRequest("GET", "/", nil)
		rec := httptest.NewRecorder()
		m.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed authorization header is rejected", func(t *testing.T) {
		m := NewAuthMiddleware(&fakeVerifier{userID: "user-1"})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		m.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		m := NewAuthMiddleware(&fakeVerifier{err: errors.New("bad signature")})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer whatever")
		rec := httptest.NewRecorder()
		m.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token puts the user id in context", func(t *testing.T) {
		m := NewAuthMiddleware(&fakeVerifier{userID: "user-42"})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer some-token")
		rec := httptest.NewRecorder()
		m.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-42", rec.Body.String())
	})

	t.Run("works with real JWT issuer", func(t *testing.T) {
		issuer := token.NewJWTIssuer("test-secret-that-is-long-enough!", "pairing-server", time.Hour)
		m := NewAuthMiddleware(issuer)

		signed, err := issuer.Issue(context.Background(), "user-7")
		assert.NoError(t, err)

		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		m.Handler(okHandler).ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-7", rec.Body.String())
	})
}

func TestGetUserID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, GetUserID(r.Context()))
}
