package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

func TestErrorMessageComposition(t *testing.T) {
	base := New(CodeToolFailed, CategoryTool, "tool echo failed")
	if got := base.Error(); got != "tool echo failed" {
		t.Errorf("Error() = %q", got)
	}

	detailed := base.WithDetail("handler panicked")
	if got := detailed.Error(); got != "tool echo failed: handler panicked" {
		t.Errorf("Error() = %q", got)
	}
	// WithDetail must not mutate the original.
	if base.Detail() != "" {
		t.Error("WithDetail mutated receiver")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := TransportFailure("send", cause)
	if !stderrors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if err.Code() != CodeTransportFailure {
		t.Errorf("code = %d", err.Code())
	}
	if err.Category() != CategoryTransport {
		t.Errorf("category = %s", err.Category())
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(ToolNotFound("bogus")); got != CodeToolNotFound {
		t.Errorf("CodeOf = %d, want %d", got, CodeToolNotFound)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeInternalError {
		t.Errorf("CodeOf(plain) = %d, want %d", got, CodeInternalError)
	}
	// Works through wrapping.
	wrapped := fmt.Errorf("outer: %w", RequestTimeout("tools/call", 5*time.Second))
	if got := CodeOf(wrapped); got != CodeRequestTimeout {
		t.Errorf("CodeOf(wrapped) = %d, want %d", got, CodeRequestTimeout)
	}
}

func TestIsCategory(t *testing.T) {
	if !IsCategory(InvalidArguments("echo", []string{"message is required"}), CategoryValidation) {
		t.Error("InvalidArguments should be validation category")
	}
	if IsCategory(fmt.Errorf("plain"), CategoryValidation) {
		t.Error("plain errors have no category")
	}
}

func TestToErrorObject(t *testing.T) {
	obj := ToErrorObject(ToolNotFound("image"))
	if obj.Code != CodeToolNotFound {
		t.Errorf("code = %d", obj.Code)
	}
	if len(obj.Data) == 0 {
		t.Fatal("meta not carried as data")
	}

	plain := ToErrorObject(fmt.Errorf("boom"))
	if plain.Code != CodeInternalError {
		t.Errorf("plain error code = %d", plain.Code)
	}
	if ToErrorObject(nil) != nil {
		t.Error("nil error should map to nil object")
	}
}

func TestFromErrorObjectRecoversCategory(t *testing.T) {
	tests := []struct {
		code int
		want Category
	}{
		{CodeSessionNotFound, CategorySession},
		{CodeUnauthorized, CategoryAuth},
		{CodeToolNotFound, CategoryTool},
		{CodeTransportFailure, CategoryTransport},
		{CodeRequestTimeout, CategoryTimeout},
		{CodeCancelled, CategoryCancelled},
		{CodeInvalidParams, CategoryValidation},
		{-31999, CategoryInternal},
	}
	for _, tt := range tests {
		e := FromErrorObject(&protocol.ErrorObject{Code: tt.code, Message: "x"})
		if e.Category() != tt.want {
			t.Errorf("code %d category = %s, want %s", tt.code, e.Category(), tt.want)
		}
	}
}

func TestTimeoutCategorySurvivesWire(t *testing.T) {
	orig := RequestTimeout("tools/call", 5*time.Second)
	back := FromErrorObject(ToErrorObject(orig))
	if !IsCategory(back, CategoryTimeout) {
		t.Errorf("category after round trip = %s, want %s", back.Category(), CategoryTimeout)
	}
}

func TestWireRoundTrip(t *testing.T) {
	orig := CapabilityRequired("sampling")
	back := FromErrorObject(ToErrorObject(orig))
	if back.Code() != orig.Code() {
		t.Errorf("code = %d, want %d", back.Code(), orig.Code())
	}
	if back.Meta()["capability"] != "sampling" {
		t.Errorf("meta = %v", back.Meta())
	}
}
