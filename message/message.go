// Package message defines the request and response envelopes exchanged
// between a caller and the agent.
//
// Request and Response are the "envelope" for every command. They get
// serialized by the codec layer and wrapped in a protocol frame for
// transmission over TCP. The Payload field is opaque to the dispatch layer:
// only the handler bound to the command identifier knows its shape.
package message

import "fmt"

// ErrorKind is the coarse classification of a failed dispatch, carried on
// the wire so callers can react to the failure class without parsing the
// message text.
type ErrorKind string

const (
	// KindUnknownCommand: the command identifier is not in the registry.
	KindUnknownCommand ErrorKind = "unknown_command"
	// KindInvalidArguments: the payload does not match the handler's
	// expected argument shape. The operation was never invoked.
	KindInvalidArguments ErrorKind = "invalid_arguments"
	// KindOperationFailed: the handler ran but the underlying system
	// operation failed. The message carries the underlying error text.
	KindOperationFailed ErrorKind = "operation_failed"
	// KindProtocol: the frame body could not be decoded into a Request.
	KindProtocol ErrorKind = "protocol_error"
)

// Request carries one command submission.
//
//   - Command selects a handler in the capability registry,
//     e.g. "CommandExec" or "TelemetryLoad".
//   - Payload holds the handler-specific serialized arguments. It is
//     validated only by the handler itself.
type Request struct {
	Command string `json:"command"`
	Payload []byte `json:"payload,omitempty"`
}

// Response carries the outcome of exactly one Request.
//
//   - On success: Payload holds the serialized result, Kind and Error are
//     empty.
//   - On failure: Kind classifies the failure and Error holds the
//     human-readable message. Payload is empty.
type Response struct {
	Payload []byte    `json:"payload,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// OK reports whether the response represents a successful dispatch.
func (r *Response) OK() bool {
	return r.Kind == ""
}

// Ok builds a success response wrapping the serialized result.
func Ok(payload []byte) *Response {
	return &Response{Payload: payload}
}

// Errf builds a failure response of the given kind.
func Errf(kind ErrorKind, format string, args ...any) *Response {
	return &Response{Kind: kind, Error: fmt.Sprintf(format, args...)}
}
