package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// Claims are the bearer token claims issued by the identity provider.
// SpaceID falls back to the subject.
type Claims struct {
	SpaceID      string `json:"space_id,omitempty"`
	HomeCurrency string `json:"home_currency,omitempty"`
	jwt.RegisteredClaims
}

// TenantHeader carries the space id when header tenancy is enabled.
const TenantHeader = "X-Space-ID"

type TenantOptions struct {
	// Secret verifies HS256 tokens.
	Secret []byte
	// DefaultCurrency is used when the token carries no home currency.
	DefaultCurrency string
	// AllowHeader trusts TenantHeader when no token is sent. Local use only.
	AllowHeader bool
}

var errNoToken = errors.New("missing bearer token")

// Tenant resolves the tenant of every request and stores it with
// tenant.WithContext. Requests without a valid tenant get 401.
func Tenant(opts TenantOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := tenantFromRequest(r, opts)
			if err != nil {
				log := logger.FromContext(r.Context())
				log.Debug().Err(err).Msg("Rejected request without tenant")
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if tc.HomeCurrency == "" {
				tc = tenant.New(tc.ID, opts.DefaultCurrency)
			}

			log := logger.FromContext(r.Context()).With().Str("tenant_id", tc.ID).Logger()
			ctx := logger.WithContext(tenant.WithContext(r.Context(), tc), log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tenantFromRequest(r *http.Request, opts TenantOptions) (tenant.Context, error) {
	raw, err := bearerToken(r)
	if errors.Is(err, errNoToken) && opts.AllowHeader {
		tc := tenant.New(r.Header.Get(TenantHeader), r.Header.Get("X-Home-Currency"))
		return tc, tc.Validate()
	}
	if err != nil {
		return tenant.Context{}, err
	}

	claims, err := ParseToken(raw, opts.Secret)
	if err != nil {
		return tenant.Context{}, err
	}

	id := claims.SpaceID
	if id == "" {
		id = claims.Subject
	}
	tc := tenant.New(id, claims.HomeCurrency)
	return tc, tc.Validate()
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errNoToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(raw string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, errors.New("no token secret configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// SignToken issues a token for spaceID. Used by the CLI and tests.
func SignToken(secret []byte, spaceID, homeCurrency string, claims jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SpaceID:          spaceID,
		HomeCurrency:     homeCurrency,
		RegisteredClaims: claims,
	})
	return token.SignedString(secret)
}
