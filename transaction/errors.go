// Package transaction implements the HTTP Transaction Engine: the
// [Build]->[AwaitHeaders]->[StreamBody]->[Done]/[Redirect] state machine
// that drives one httpsend.Sendable to completion against a ResponseContext.
//
// Grounded on the teacher's client/h2_transport.go (custom transport
// wrapping, ALPN negotiation) and session/session.go's ExecuteRequest
// single-call shape, generalized into an explicit state machine with
// redirect handling, cancellation, decompression and tee capture.
package transaction

import "fmt"

// RenderError signals a template failure (missing var, function failure,
// callback timeout). The transaction engine itself never renders templates;
// this type exists so callers preparing a Sendable can report render
// failures through the same error family the engine uses.
type RenderError struct{ Message string }

func (e *RenderError) Error() string { return fmt.Sprintf("render: %s", e.Message) }

// RequestError covers wire errors, redirect-limit exceeded, and body-replay
// refusal.
type RequestError struct{ Message string }

func (e *RequestError) Error() string { return fmt.Sprintf("request: %s", e.Message) }

// RequestCanceledError marks cancellation that happened before headers were
// received.
type RequestCanceledError struct{}

func (e *RequestCanceledError) Error() string { return "request canceled" }

// DecompressionError wraps a body-decoder failure for a given encoding.
// Per spec.md §7 it is surfaced to callers as a RequestError once it reaches
// the response's error field.
type DecompressionError struct {
	Encoding string
	Message  string
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompression (%s): %s", e.Encoding, e.Message)
}

// AuthPluginError marks a plugin that declined or errored while computing
// auth mutations.
type AuthPluginError struct{ Message string }

func (e *AuthPluginError) Error() string { return fmt.Sprintf("auth plugin: %s", e.Message) }

// DescriptorError marks a gRPC reflection/compile failure. Nothing in this
// module raises it: grpcconn reports descriptor failures by wrapping its
// own grpcconn.ErrDescriptor sentinel.
type DescriptorError struct{ Message string }

func (e *DescriptorError) Error() string { return fmt.Sprintf("descriptor: %s", e.Message) }

// BodyError marks a missing file, unsupported body type, or stream-tee
// failure.
type BodyError struct{ Message string }

func (e *BodyError) Error() string { return fmt.Sprintf("body: %s", e.Message) }
