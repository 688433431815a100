// Package auth guards the HTTP surface with pluggable credential
// providers: static bearer tokens and API keys out of the box.
package auth

import (
	"context"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
)

// Principal identifies an authenticated caller.
type Principal struct {
	// ID is the caller's stable identifier.
	ID string
	// Name is a human-readable label for logs.
	Name string
	// Scopes lists what the caller may do. Empty means unrestricted.
	Scopes []string
}

// HasScope reports whether the principal carries scope, treating an
// empty scope list as all-access.
func (p *Principal) HasScope(scope string) bool {
	if len(p.Scopes) == 0 {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Provider validates one kind of credential.
type Provider interface {
	// Validate checks the credential and returns the caller it belongs
	// to. A bad credential returns an auth-category error.
	Validate(ctx context.Context, credential string) (*Principal, error)
	// Type names the credential scheme, e.g. "bearer" or "apikey".
	Type() string
}

type principalKey struct{}

// ContextWithPrincipal stores the authenticated caller in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by the middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// errBadCredential is the uniform rejection; it deliberately does not
// say whether the credential was unknown or malformed.
func errBadCredential() error {
	return mcperrors.Unauthorized("invalid credentials")
}
