package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// APIKeyProvider validates API keys. Only key hashes are held in
// memory, so a heap dump does not expose live keys.
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]*Principal // keyed by hex(sha256(key))
}

// NewAPIKeyProvider creates an empty provider.
func NewAPIKeyProvider() *APIKeyProvider {
	return &APIKeyProvider{keys: make(map[string]*Principal)}
}

// AddKey provisions a key for the given principal.
func (ap *APIKeyProvider) AddKey(key string, principal *Principal) {
	ap.mu.Lock()
	ap.keys[hashKey(key)] = principal
	ap.mu.Unlock()
}

// RevokeKey removes a key.
func (ap *APIKeyProvider) RevokeKey(key string) {
	ap.mu.Lock()
	delete(ap.keys, hashKey(key))
	ap.mu.Unlock()
}

// Validate implements Provider.
func (ap *APIKeyProvider) Validate(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, errBadCredential()
	}

	ap.mu.RLock()
	principal, ok := ap.keys[hashKey(credential)]
	ap.mu.RUnlock()
	if !ok {
		return nil, errBadCredential()
	}
	return principal, nil
}

// Type implements Provider.
func (ap *APIKeyProvider) Type() string { return "apikey" }

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
