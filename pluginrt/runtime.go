// Package pluginrt defines the contract between the transaction core and
// the out-of-process plugin runtime: a duplex event channel with
// correlated request/response pairs, keyed by request id.
//
// The correlation map follows the teacher's token.HeartbeatManager pattern
// (a sync.Map keyed by an opaque id, single writer per key) rather than a
// single mutex-guarded map, since many concurrent renders may each be
// awaiting a distinct in-flight plugin call.
package pluginrt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// RenderPurpose mirrors spec.md Â§4.B's Send/Preview distinction.
type RenderPurpose string

const (
	PurposeSend    RenderPurpose = "Send"
	PurposePreview RenderPurpose = "Preview"
)

// CallTemplateFunctionRequest asks the plugin runtime to evaluate a
// non-native template function.
type CallTemplateFunctionRequest struct {
	ID      string                     `json:"id"`
	Name    string                     `json:"name"`
	Purpose RenderPurpose              `json:"purpose"`
	Values  map[string]json.RawMessage `json:"values"`
}

// CallTemplateFunctionResponse is the symmetric reply.
type CallTemplateFunctionResponse struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// CallHttpAuthenticationRequest asks a plugin to compute auth mutations for
// an outgoing request.
type CallHttpAuthenticationRequest struct {
	ID        string                     `json:"id"`
	AuthName  string                     `json:"auth_name"`
	ContextID string                     `json:"context_id"`
	Method    string                     `json:"method"`
	URL       string                     `json:"url"`
	Headers   []HeaderPair               `json:"headers"`
	Values    map[string]json.RawMessage `json:"values"`
}

// HeaderPair is an ordered name/value pair crossing the plugin boundary.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CallHttpAuthenticationResponse carries the headers/query parameters a
// plugin wants applied to the outgoing request.
type CallHttpAuthenticationResponse struct {
	ID                 string       `json:"id"`
	SetHeaders         []HeaderPair `json:"set_headers"`
	SetQueryParameters []HeaderPair `json:"set_query_parameters"`
}

// ImportRequest/FilterRequest round out the duplex contract's peripheral
// request kinds; the transaction core only originates them, it does not
// interpret their responses beyond surfacing errors.
type ImportRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type ImportResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type FilterRequest struct {
	ID      string `json:"id"`
	Filter  string `json:"filter"`
	Content string `json:"content"`
}

type FilterResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// ErrorResponse is always an acceptable reply to any request kind.
type ErrorResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Runtime is the narrow interface the core calls through to reach the
// plugin process. A concrete implementation owns the duplex transport
// (pipe, socket, …); this package only defines the contract and the
// request/response correlation bookkeeping via Caller.
type Runtime interface {
	// Send dispatches req (one of the *Request types above) without
	// waiting for a reply; the reply arrives asynchronously via whatever
	// transport-specific delivery mechanism feeds Caller.Deliver.
	Send(ctx context.Context, id string, req any) error
}

// Caller correlates outgoing plugin requests with their eventual replies,
// enforcing a per-call timeout. One Caller is shared by every package that
// needs to reach the plugin runtime (template, auth).
type Caller struct {
	rt      Runtime
	pending sync.Map // id -> chan any (holds *Call*Response or *ErrorResponse)
}

// NewCaller wraps rt with correlation bookkeeping.
func NewCaller(rt Runtime) *Caller {
	return &Caller{rt: rt}
}

// Deliver is called by the transport layer whenever a reply arrives from
// the plugin process. id must match the originating request's id. Replies
// for unknown (already-timed-out or foreign) ids are dropped.
func (c *Caller) Deliver(id string, reply any) {
	if ch, ok := c.pending.LoadAndDelete(id); ok {
		ch.(chan any) <- reply
	}
}

// call is the shared request/await/timeout machinery for every *Call*
// exchange.
func (c *Caller) call(ctx context.Context, id string, req any, timeout time.Duration) (any, error) {
	ch := make(chan any, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	if err := c.rt.Send(ctx, id, req); err != nil {
		return nil, fmt.Errorf("pluginrt: send %T: %w", req, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if errResp, ok := reply.(*ErrorResponse); ok {
			return nil, fmt.Errorf("pluginrt: plugin error: %s", errResp.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("pluginrt: call %s: %w", id, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("pluginrt: call %s: timed out waiting for non-responding plugin after %s", id, timeout)
	}
}

// CallTemplateFunction dispatches a template function call and awaits its
// reply, bounded by timeout (callers typically pass a short timeout for
// rendering; render timeouts are a RenderError per spec.md Â§7).
func (c *Caller) CallTemplateFunction(ctx context.Context, req CallTemplateFunctionRequest, timeout time.Duration) (*CallTemplateFunctionResponse, error) {
	reply, err := c.call(ctx, req.ID, &req, timeout)
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*CallTemplateFunctionResponse)
	if !ok {
		return nil, fmt.Errorf("pluginrt: unexpected reply type %T for template function call", reply)
	}
	return resp, nil
}

// AuthPluginBudget is the 5-minute budget spec.md Â§4.F allots interactive
// OAuth flows.
const AuthPluginBudget = 5 * time.Minute

// CallHttpAuthentication dispatches an auth mutation request with the
// spec's fixed 5-minute budget.
func (c *Caller) CallHttpAuthentication(ctx context.Context, req CallHttpAuthenticationRequest) (*CallHttpAuthenticationResponse, error) {
	reply, err := c.call(ctx, req.ID, &req, AuthPluginBudget)
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*CallHttpAuthenticationResponse)
	if !ok {
		return nil, fmt.Errorf("pluginrt: unexpected reply type %T for auth call", reply)
	}
	return resp, nil
}
