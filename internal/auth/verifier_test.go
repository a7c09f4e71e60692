package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret", "toko", "toko-pricing", time.Second)
	require.NoError(t, err)
	v.Now = func() time.Time { return testNow }
	return v
}

func TestTokenValidator(t *testing.T) {
	build := func(issuer string, nbf, exp time.Time) jwt.Token {
		tok, err := jwt.NewBuilder().
			Issuer(issuer).
			Audience([]string{"aud"}).
			Subject("sub").
			IssuedAt(testNow).
			NotBefore(nbf).
			Expiration(exp).
			Build()
		require.NoError(t, err)
		return tok
	}
	validator := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256}

	require.NoError(t, validator.Validate(build("issuer", testNow, testNow.Add(time.Minute)), jwa.HS256, testNow))
	require.Error(t, validator.Validate(build("other", testNow, testNow.Add(time.Minute)), jwa.HS256, testNow))
	require.Error(t, validator.Validate(build("issuer", testNow.Add(-time.Hour), testNow.Add(-time.Minute)), jwa.HS256, testNow))
	require.Error(t, validator.Validate(build("issuer", testNow.Add(5*time.Minute), testNow.Add(10*time.Minute)), jwa.HS256, testNow))
	require.Error(t, validator.Validate(build("issuer", testNow, testNow.Add(time.Minute)), jwa.RS256, testNow))
	require.Error(t, validator.Validate(nil, jwa.HS256, testNow))
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("alice", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, Claims{Subject: "alice", Role: RoleAdmin}, claims)
}

func TestVerifierRejects(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("alice", "", time.Minute)
	require.NoError(t, err)

	other, err := NewVerifier("another-secret", "toko", "toko-pricing", 0)
	require.NoError(t, err)
	other.Now = v.Now
	_, err = other.Parse(token)
	require.True(t, common.IsAppError(err))

	v.Now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = v.Parse(token)
	require.Error(t, err)

	_, err = v.Parse("not-a-token")
	require.Error(t, err)
	_, err = v.Parse(" ")
	require.Error(t, err)

	_, err = NewVerifier("", "", "", 0)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v := newTestVerifier(t)
	m := Middleware{Verifier: v}
	admin, err := v.Issue("root", RoleAdmin, time.Hour)
	require.NoError(t, err)
	customer, err := v.Issue("alice", "", time.Hour)
	require.NoError(t, err)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	serve := func(h http.Handler, token string) int {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, serve(m.Authenticate(next), ""))
	require.Empty(t, seen)
	require.Equal(t, http.StatusNoContent, serve(m.Authenticate(next), customer))
	require.Equal(t, "alice", seen)
	require.Equal(t, http.StatusNoContent, serve(m.Authenticate(next), "garbage"))
	require.Empty(t, seen)

	require.Equal(t, http.StatusUnauthorized, serve(m.RequireAuth(next), ""))
	require.Equal(t, http.StatusNoContent, serve(m.RequireAuth(next), customer))

	adminOnly := m.RequireRole(RoleAdmin)(next)
	require.Equal(t, http.StatusUnauthorized, serve(adminOnly, ""))
	require.Equal(t, http.StatusForbidden, serve(adminOnly, customer))
	require.Equal(t, http.StatusNoContent, serve(adminOnly, admin))
	require.Equal(t, "root", seen)
}

func TestMiddlewareReadsCookie(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	m := Middleware{Verifier: v, AccessCookie: "access_token"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()
	m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := common.UserID(r.Context())
		require.Equal(t, "alice", id)
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
