package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

var secret = []byte("test-secret")

func tenantEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := tenant.FromContext(r.Context())
		require.True(t, ok)
		middleware.WriteJSON(w, http.StatusOK, tc)
	})
}

func TestTenant(t *testing.T) {
	valid, err := middleware.SignToken(secret, "space-1", "eur", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	subjectOnly, err := middleware.SignToken(secret, "", "", jwt.RegisteredClaims{Subject: "space-2"})
	require.NoError(t, err)
	expired, err := middleware.SignToken(secret, "space-1", "", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)
	wrongKey, err := middleware.SignToken([]byte("other"), "space-1", "", jwt.RegisteredClaims{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		header  bool
		status  int
		body    string
	}{
		{"valid token", map[string]string{"Authorization": "Bearer " + valid}, false, http.StatusOK, `{"id":"space-1","home_currency":"EUR"}`},
		{"subject fallback and default currency", map[string]string{"Authorization": "Bearer " + subjectOnly}, false, http.StatusOK, `{"id":"space-2","home_currency":"CNY"}`},
		{"expired", map[string]string{"Authorization": "Bearer " + expired}, false, http.StatusUnauthorized, ""},
		{"wrong key", map[string]string{"Authorization": "Bearer " + wrongKey}, false, http.StatusUnauthorized, ""},
		{"malformed header", map[string]string{"Authorization": "Token abc"}, false, http.StatusUnauthorized, ""},
		{"no token", nil, false, http.StatusUnauthorized, ""},
		{"header tenancy", map[string]string{middleware.TenantHeader: "space-3"}, true, http.StatusOK, `{"id":"space-3","home_currency":"CNY"}`},
		{"header tenancy without header", nil, true, http.StatusUnauthorized, ""},
		{"header ignored when disabled", map[string]string{middleware.TenantHeader: "space-3"}, false, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.Tenant(middleware.TenantOptions{
				Secret:          secret,
				DefaultCurrency: "CNY",
				AllowHeader:     tt.header,
			})(tenantEcho(t))

			req := httptest.NewRequest(http.MethodGet, "/records", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, middleware.Claims{SpaceID: "space-1"})
	raw, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = middleware.ParseToken(raw, secret)
	assert.Error(t, err)

	_, err = middleware.ParseToken(raw, nil)
	assert.Error(t, err)
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	h := middleware.RequestID(middleware.Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.FromContext(r.Context())
		l.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, buf.String(), "req-42")
	assert.Contains(t, buf.String(), "inside")
	assert.Contains(t, buf.String(), "418")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	h := middleware.Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, middleware.ParseOrigins(" https://a.example, ,https://b.example"))
	assert.Nil(t, middleware.ParseOrigins(""))
}
