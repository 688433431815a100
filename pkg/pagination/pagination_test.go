package pagination

import (
	"testing"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	for _, key := range []string{"echo", "", "tool with spaces", "日本語"} {
		cursor := EncodeCursor(key)
		got, err := DecodeCursor(cursor)
		if err != nil {
			t.Fatalf("DecodeCursor(%q): %v", cursor, err)
		}
		if got != key {
			t.Fatalf("round trip of %q gave %q", key, got)
		}
	}
}

func TestCursorOpaque(t *testing.T) {
	cursor := EncodeCursor("echo")
	if cursor == "echo" {
		t.Fatal("cursor leaks the raw sort key")
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"not base64 %%%", "bm90IGpzb24"} {
		if _, err := DecodeCursor(cursor); !mcperrors.IsCode(err, mcperrors.CodeInvalidParams) {
			t.Fatalf("DecodeCursor(%q): got %v, want invalid params", cursor, err)
		}
	}
}

func TestClampPageSize(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, DefaultPageSize},
		{-5, DefaultPageSize},
		{25, 25},
		{MaxPageSize, MaxPageSize},
		{MaxPageSize + 1, MaxPageSize},
	}
	for _, c := range cases {
		if got := ClampPageSize(c.in); got != c.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
