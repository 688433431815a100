// Package pagination implements the opaque cursors used by paginated
// list operations. A cursor encodes the sort key of the last item on
// the previous page; clients must treat it as an opaque token.
package pagination

import (
	"encoding/base64"
	"encoding/json"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
)

const (
	// DefaultPageSize is the page size used when a provider does not
	// configure its own.
	DefaultPageSize = 50

	// MaxPageSize caps provider-configured page sizes.
	MaxPageSize = 200
)

type cursorPayload struct {
	Key string `json:"k"`
}

// EncodeCursor wraps the last item's sort key into an opaque token.
func EncodeCursor(key string) string {
	raw, _ := json.Marshal(cursorPayload{Key: key})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor unwraps a token produced by EncodeCursor. Tokens that
// did not come from EncodeCursor are rejected with an invalid-params
// error, since a malformed cursor is a caller mistake.
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", mcperrors.New(mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "malformed pagination cursor")
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", mcperrors.New(mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "malformed pagination cursor")
	}
	return payload.Key, nil
}

// ClampPageSize normalizes a configured page size into [1, MaxPageSize],
// substituting DefaultPageSize for zero or negative values.
func ClampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
