package auth

import (
	"context"
	"crypto/subtle"
	"sync"
)

// BearerProvider validates static bearer tokens against an in-memory
// table. Suited to service-to-service deployments where tokens are
// provisioned out of band.
type BearerProvider struct {
	mu     sync.RWMutex
	tokens map[string]*Principal
}

// NewBearerProvider creates an empty provider.
func NewBearerProvider() *BearerProvider {
	return &BearerProvider{tokens: make(map[string]*Principal)}
}

// AddToken provisions a token for the given principal.
func (bp *BearerProvider) AddToken(token string, principal *Principal) {
	bp.mu.Lock()
	bp.tokens[token] = principal
	bp.mu.Unlock()
}

// RevokeToken removes a token.
func (bp *BearerProvider) RevokeToken(token string) {
	bp.mu.Lock()
	delete(bp.tokens, token)
	bp.mu.Unlock()
}

// Validate implements Provider. Comparison is constant-time per
// candidate so timing does not leak token prefixes.
func (bp *BearerProvider) Validate(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, errBadCredential()
	}

	bp.mu.RLock()
	defer bp.mu.RUnlock()
	for token, principal := range bp.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(credential)) == 1 {
			return principal, nil
		}
	}
	return nil, errBadCredential()
}

// Type implements Provider.
func (bp *BearerProvider) Type() string { return "bearer" }
