package auth

import (
	"net/http"
	"strings"
)

const apiKeyHeader = "X-API-Key"

// Middleware authenticates requests against the given providers.
// Bearer tokens from the Authorization header go to "bearer"
// providers, the X-API-Key header goes to "apikey" providers. The
// first provider that accepts the credential wins; the principal is
// attached to the request context. Requests with no usable
// credential, or a credential every provider rejects, get a 401.
func Middleware(providers ...Provider) func(http.Handler) http.Handler {
	byType := make(map[string][]Provider)
	for _, p := range providers {
		byType[p.Type()] = append(byType[p.Type()], p)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credType, credential := extractCredential(r)
			for _, p := range byType[credType] {
				principal, err := p.Validate(r.Context(), credential)
				if err != nil {
					continue
				}
				ctx := ContextWithPrincipal(r.Context(), principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func extractCredential(r *http.Request) (credType, credential string) {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return "bearer", strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return "apikey", key
	}
	return "", ""
}
