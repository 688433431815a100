package errors

import (
	"encoding/json"
	stderrors "errors"

	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

// ToErrorObject converts any error into a protocol error object. Typed
// errors keep their code and expose meta as the data member; everything
// else becomes an internal error.
func ToErrorObject(err error) *protocol.ErrorObject {
	if err == nil {
		return nil
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return &protocol.ErrorObject{Code: CodeInternalError, Message: err.Error()}
	}
	obj := &protocol.ErrorObject{Code: e.Code(), Message: e.Error()}
	if len(e.Meta()) > 0 {
		if raw, merr := json.Marshal(e.Meta()); merr == nil {
			obj.Data = raw
		}
	}
	return obj
}

// FromErrorObject rebuilds a typed error from a wire-level error object,
// recovering the category from the code band.
func FromErrorObject(obj *protocol.ErrorObject) *Error {
	if obj == nil {
		return nil
	}
	e := New(obj.Code, categoryForCode(obj.Code), obj.Message)
	if len(obj.Data) > 0 {
		var meta map[string]interface{}
		if err := json.Unmarshal(obj.Data, &meta); err == nil {
			for k, v := range meta {
				e = e.WithMeta(k, v)
			}
		}
	}
	return e
}
