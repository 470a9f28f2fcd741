package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the access claims stored by [RequireSession].
func ClaimsFromContext(ctx context.Context) (*goIdentity.AccessClaims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*goIdentity.AccessClaims)
	return c, ok
}

// validator is the slice of the engine the guards need.
type validator interface {
	ValidateAccessToken(ctx context.Context, token string) (*goIdentity.AccessClaims, error)
}

// RequireSession rejects requests without a valid bearer access token whose
// session is still active. Backend failures answer 503 so clients do not
// discard good tokens during an outage.
func RequireSession(engine *goIdentity.Engine) func(http.Handler) http.Handler {
	if engine == nil {
		// keep the interface nil rather than a typed nil pointer
		return requireSession(nil)
	}
	return requireSession(engine)
}

func requireSession(v validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if v == nil || token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := goIdentity.WithUserAgent(goIdentity.WithClientIP(r.Context(), clientIP(r)), r.UserAgent())
			claims, err := v.ValidateAccessToken(ctx, token)
			switch {
			case errors.Is(err, goIdentity.ErrStoreUnavailable), errors.Is(err, goIdentity.ErrCacheUnavailable):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			case err != nil:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			default:
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, claimsContextKey{}, claims)))
			}
		})
	}
}

// bearerToken returns "" unless the header is "Bearer <token>". The scheme
// match is case-insensitive.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
