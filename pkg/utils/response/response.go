package response

import (
	"bytes"
	"encoding/json"

	"codeverse/pkg/errors"
)

// Response is the backend's standard {code, message, data} envelope.
type Response struct {
	Code    errors.ErrorCode       `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// Decode reports whether body is an envelope and returns it. An envelope has a
// numeric "code" next to a "data" or "message" field; anything else is a plain
// payload, even when it happens to carry a code.
func Decode(body []byte) (Response, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return Response{}, false
	}
	var shape struct {
		Code    *int            `json:"code"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &shape); err != nil || shape.Code == nil {
		return Response{}, false
	}
	if shape.Message == nil && len(shape.Data) == 0 {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}

// OK treats both 0 and the Success code as success.
func (r Response) OK() bool {
	return r.Code == 0 || r.Code == errors.Success
}

// Err converts a failed envelope into a coded error. The server code, message
// and trace id are kept as details.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	e := errors.New(r.Code).WithDetail("server_code", int(r.Code))
	if r.Message != "" {
		e.WithMessage(r.Message).WithDetail(errors.DetailServerMessage, r.Message)
	}
	if r.TraceID != "" {
		e.WithDetail("trace_id", r.TraceID)
	}
	for k, v := range r.Details {
		if _, exists := e.Details[k]; !exists {
			e.WithDetail(k, v)
		}
	}
	return e
}

// Payload returns the data section of an envelope, or body itself when it is
// not one. A failed envelope yields its error.
func Payload(body []byte) ([]byte, error) {
	env, ok := Decode(body)
	if !ok {
		return body, nil
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Data, nil
}
