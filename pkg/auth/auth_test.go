package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{Secret: "test-secret", Issuer: "reserve-tests"}

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	token, err := Issue(testCfg, "alice", []string{"reserve:read", "reserve:write"}, time.Hour, now)
	require.NoError(t, err)

	claims, err := Parse(token, testCfg)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.True(t, claims.HasScope("reserve:read"))
	require.True(t, claims.HasScope("reserve:write"))
	require.False(t, claims.HasScope("reserve:admin"))
	require.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestParseRejectsBadTokens(t *testing.T) {
	now := time.Now()

	_, err := Parse("  ", testCfg)
	require.ErrorIs(t, err, ErrMissingToken)

	expired, err := Issue(testCfg, "alice", nil, -time.Minute, now)
	require.NoError(t, err)
	_, err = Parse(expired, testCfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer, err := Issue(Config{Secret: testCfg.Secret, Issuer: "elsewhere"}, "alice", nil, time.Hour, now)
	require.NoError(t, err)
	_, err = Parse(otherIssuer, testCfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongKey, err := Issue(Config{Secret: "other", Issuer: testCfg.Issuer}, "alice", nil, time.Hour, now)
	require.NoError(t, err)
	_, err = Parse(wrongKey, testCfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testCfg.Issuer,
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)
	_, err = Parse(noSubject, testCfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testCfg.Issuer,
		"sub": "alice",
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)
	_, err = Parse(noExpiry, testCfg)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestScopesAcceptListClaims(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    testCfg.Issuer,
		"sub":    "bob",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"reserve:admin", ""},
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)

	claims, err := Parse(token, testCfg)
	require.NoError(t, err)
	require.Len(t, claims.Scopes, 1)
	require.True(t, claims.HasScope("reserve:admin"))
}

func TestMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := FromContext(r.Context()); ok {
			seen = claims.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mw := NewMiddleware(testCfg, SkipPaths("/healthz"))
	handler := mw.Wrap(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reserve/stats", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	token, err := Issue(testCfg, "carol", nil, time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/reserve/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "carol", seen)

	var custom error
	mw.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
		custom = err
		w.WriteHeader(http.StatusTeapot)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/reserve/stats", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.ErrorIs(t, custom, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("bearer  abc ")
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = bearerToken("")
	require.ErrorIs(t, err, ErrMissingToken)
	_, err = bearerToken("Bearer")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = bearerToken("Token abc")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubjectFromContext(t *testing.T) {
	_, ok := Subject(context.Background())
	require.False(t, ok)

	_, ok = Subject(WithClaims(context.Background(), nil))
	require.False(t, ok)

	subject, ok := Subject(WithClaims(context.Background(), &Claims{Subject: "alice"}))
	require.True(t, ok)
	require.Equal(t, "alice", subject)
}
