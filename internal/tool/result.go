package tool

import (
	"encoding/json"
	"errors"
)

// Call is one request naming a tool and its arguments. CallID is assigned by
// the transport when the caller omits it.
type Call struct {
	ToolID    string         `json:"tool_id"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
}

// Result is either Ok with a payload or a failure with an Error; never both.
type Result struct {
	ok      bool
	payload any
	err     *Error
}

// Ok wraps a successful payload.
func Ok(payload any) Result {
	return Result{ok: true, payload: payload}
}

// Fail wraps a structured error.
func Fail(err *Error) Result {
	if err == nil {
		err = &Error{Kind: KindBackendFailure, Message: "unknown failure"}
	}
	return Result{err: err}
}

// FromError converts a handler error into a failed Result.
func FromError(err error) Result {
	return Fail(AsError(err))
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.ok }

// Payload returns the success payload, or nil for failures.
func (r Result) Payload() any { return r.payload }

// Err returns the failure, or nil for successes.
func (r Result) Err() *Error { return r.err }

type wireResult struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// MarshalJSON emits {"ok":true,"result":…} or {"ok":false,"error":{…}}.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.ok {
		return json.Marshal(wireResult{OK: false, Error: r.failure()})
	}
	raw, err := json.Marshal(r.payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireResult{OK: true, Result: raw})
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var wire wireResult
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.OK {
		if wire.Error != nil {
			return errors.New("result: ok response carries an error")
		}
		var payload any
		if len(wire.Result) > 0 {
			if err := json.Unmarshal(wire.Result, &payload); err != nil {
				return err
			}
		}
		*r = Ok(payload)
		return nil
	}
	if wire.Error == nil {
		return errors.New("result: failed response without error")
	}
	*r = Fail(wire.Error)
	return nil
}

// failure substitutes a generic error for a zero Result.
func (r Result) failure() *Error {
	if r.err == nil {
		return &Error{Kind: KindBackendFailure, Message: "empty result"}
	}
	return r.err
}
