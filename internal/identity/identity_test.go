package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/staffroom/staffroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier(t *testing.T) {
	signingKey := []byte("test-signing-key")

	t.Run("valid token", func(t *testing.T) {
		ident := types.Identity{Id: 7, Name: "recruiter", Avatar: "http://cdn.local/7.png"}
		token, err := NewToken(signingKey, ident, time.Now().Add(time.Hour).Unix())
		require.NoError(t, err)

		got, err := NewJWTVerifier(signingKey).Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, ident, got)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token, err := NewToken([]byte("other-key"), types.Identity{Id: 1}, time.Now().Add(time.Hour).Unix())
		require.NoError(t, err)

		_, err = NewJWTVerifier(signingKey).Verify(context.Background(), token)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := NewToken(signingKey, types.Identity{Id: 1}, time.Now().Add(-time.Hour).Unix())
		require.NoError(t, err)

		_, err = NewJWTVerifier(signingKey).Verify(context.Background(), token)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := NewJWTVerifier(signingKey).Verify(context.Background(), "not-a-token")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestHTTPVerifier(t *testing.T) {
	t.Run("valid session", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
			assert.Equal(t, "/api/auth/session", r.URL.Path)
			json.NewEncoder(w).Encode(types.Identity{Id: 42, Name: "candidate"})
		}))
		defer ts.Close()

		ident, err := NewHTTPVerifier(ts.URL, nil).Verify(context.Background(), "token-123")
		require.NoError(t, err)
		assert.Equal(t, 42, ident.Id)
		assert.Equal(t, "candidate", ident.Name)
	})

	t.Run("unauthorized", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer ts.Close()

		_, err := NewHTTPVerifier(ts.URL, nil).Verify(context.Background(), "bad-token")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "invalid token", authErr.Message)
	})

	t.Run("service unreachable", func(t *testing.T) {
		_, err := NewHTTPVerifier("http://127.0.0.1:1", nil).Verify(context.Background(), "token")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestAuthError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &AuthError{Message: "invalid token", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "invalid token: boom", err.Error())
}
