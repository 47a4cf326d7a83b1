package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-please-rotate"

func TestVerifyRoundTrip(t *testing.T) {
	a := NewAuthenticator(Config{HMACSecret: testSecret, Issuer: "niche"})
	userID := uuid.New()

	token, err := a.Sign(userID, time.Hour)
	require.NoError(t, err)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator(Config{HMACSecret: testSecret})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthenticator(Config{HMACSecret: "some-other-secret"})
		token, err := other.Sign(uuid.New(), time.Hour)
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired beyond skew", func(t *testing.T) {
		token, err := a.Sign(uuid.New(), -time.Hour)
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired within skew", func(t *testing.T) {
		token, err := a.Sign(uuid.New(), -30*time.Second)
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.NoError(t, err)
	})

	t.Run("missing expiry claim", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": uuid.New().String()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.Error(t, err)
	})

	t.Run("subject is not a user id", func(t *testing.T) {
		claims := jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.Error(t, err)
	})

	t.Run("alg none", func(t *testing.T) {
		claims := jwt.MapClaims{
			"sub": uuid.New().String(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.Error(t, err)
	})
}

func TestVerifyIssuer(t *testing.T) {
	issuing := NewAuthenticator(Config{HMACSecret: testSecret, Issuer: "niche"})
	checking := NewAuthenticator(Config{HMACSecret: testSecret, Issuer: "other"})

	token, err := issuing.Sign(uuid.New(), time.Hour)
	require.NoError(t, err)
	_, err = checking.Verify(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator(Config{HMACSecret: testSecret})
	userID := uuid.New()

	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserID(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	})
	handler := a.Middleware(next)

	t.Run("valid token passes through", func(t *testing.T) {
		token, err := a.Sign(userID, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, seen)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
