package grpcconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/yaak-app/yaakengine/auth"
	"github.com/yaak-app/yaakengine/logger"
	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
	"github.com/yaak-app/yaakengine/response"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/tlsprofile"
)

// ErrTransport wraps dial/stream failures that are not descriptor errors.
var ErrTransport = errors.New("grpcconn: transport error")

// Manager drives spec.md Â§4.H's descriptor-pool acquisition and method
// dispatch across all four streaming modes (unary, server-streaming,
// client-streaming, bidirectional), chosen by the method descriptor's
// is_client_streaming/is_server_streaming flags.
type Manager struct {
	Pools  *PoolCache
	TLS    *tlsprofile.Selector
	Authn  *auth.Authenticator
	Logger *logger.Logger
}

// NewManager constructs a Manager. TLS, Authn and Logger may be nil.
func NewManager(pools *PoolCache, tlsSel *tlsprofile.Selector, authn *auth.Authenticator, lg *logger.Logger) *Manager {
	return &Manager{Pools: pools, TLS: tlsSel, Authn: authn, Logger: lg}
}

// Call is the live handle to an in-flight invocation. For client-streaming
// and bidirectional methods the host keeps calling Send after Invoke
// returns; for unary and server-streaming, Invoke has already sent the
// one request message and Call only serves to observe completion.
type Call struct {
	stream grpc.ClientStream
	input  protoreflect.MessageDescriptor
	output protoreflect.MessageDescriptor
	gc     *response.GrpcContext
	codec  DynamicCodec
	done   chan struct{}
}

// Invoke runs spec.md Â§4.H's dispatch sequence: resolve the descriptor
// pool, look up (service, method), pick a streaming mode, open the
// generic stream, and for non-client-streaming methods send the single
// request message immediately.
func (m *Manager) Invoke(ctx context.Context, resolved *resolver.ResolvedGrpc, gc *response.GrpcContext) (*Call, error) {
	key := Key(resolved.ContextID, resolved.URL, resolved.ProtoFiles)
	pool, err := m.Pools.Get(ctx, key, resolved.URL, resolved.ProtoFiles, m.TLS, resolved.ValidateCertificates)
	if err != nil {
		return nil, m.fail(ctx, gc, err)
	}

	md, err := pool.FindMethod(ctx, resolved.Service, resolved.Method)
	if err != nil {
		return nil, m.fail(ctx, gc, err)
	}

	cc := pool.Conn()

	outgoingCtx, err := m.applyMetadataAndAuth(ctx, resolved)
	if err != nil {
		return nil, m.fail(ctx, gc, err)
	}

	fullMethod := fmt.Sprintf("/%s/%s", md.Parent().FullName(), md.Name())
	streamDesc := &grpc.StreamDesc{
		StreamName:    string(md.Name()),
		ServerStreams: md.IsStreamingServer(),
		ClientStreams: md.IsStreamingClient(),
	}

	stream, err := cc.NewStream(outgoingCtx, streamDesc, fullMethod)
	if err != nil {
		return nil, m.fail(ctx, gc, fmt.Errorf("%w: open stream %s: %v", ErrTransport, fullMethod, err))
	}

	gc.Emit(store.GrpcEventConnectionStart, nil)

	call := &Call{stream: stream, input: md.Input(), output: md.Output(), gc: gc, done: make(chan struct{})}

	if !md.IsStreamingClient() {
		if err := call.Send(resolved.Message); err != nil {
			return nil, m.fail(ctx, gc, err)
		}
		if err := stream.CloseSend(); err != nil {
			return nil, m.fail(ctx, gc, fmt.Errorf("%w: close send: %v", ErrTransport, err))
		}
	}

	call.startReceiveLoop(ctx)
	return call, nil
}

func (m *Manager) applyMetadataAndAuth(ctx context.Context, resolved *resolver.ResolvedGrpc) (context.Context, error) {
	pairs := make(map[string]string, len(resolved.Metadata))
	for _, nv := range resolved.Metadata {
		pairs[nv.Name] = nv.Value
	}

	if m.Authn != nil {
		authResp, err := m.Authn.Apply(ctx, resolved.AuthenticationType, resolved.Authentication, resolved.ContextID, resolved.Method, resolved.URL, metadataPairs(resolved.Metadata))
		if err != nil {
			return nil, fmt.Errorf("grpcconn: authenticate: %w", err)
		}
		for _, h := range authResp.SetHeaders {
			pairs[h.Name] = h.Value
		}
		// SetQueryParameters has no gRPC analogue; an auth plugin written
		// for HTTP that sets query parameters contributes nothing here.
	}

	return metadata.NewOutgoingContext(ctx, metadata.New(pairs)), nil
}

func metadataPairs(nv []store.NameValue) []pluginrt.HeaderPair {
	out := make([]pluginrt.HeaderPair, len(nv))
	for i, e := range nv {
		out[i] = pluginrt.HeaderPair{Name: e.Name, Value: e.Value}
	}
	return out
}

func (m *Manager) fail(ctx context.Context, gc *response.GrpcContext, cause error) error {
	gc.Emit(store.GrpcEventError, func(ev *store.GrpcEvent) { ev.Text = cause.Error() })
	_ = gc.Update(ctx, func(c *store.GrpcConnection) { c.Error = cause.Error() })
	if m.Logger != nil {
		m.Logger.Errorf("grpcconn: %v", cause)
	}
	return cause
}

// Send encodes one JSON message from the host and forwards it on the
// stream, recording a ClientMessage event first (spec.md Â§4.H: "for each
// inbound/outbound message the manager uses a DynamicCodec").
func (c *Call) Send(jsonText string) error {
	msg, err := c.codec.Encode(c.input, jsonText)
	if err != nil {
		return err
	}
	c.gc.Emit(store.GrpcEventClientMessage, func(ev *store.GrpcEvent) { ev.Message = json.RawMessage(jsonText) })
	if err := c.stream.SendMsg(msg); err != nil {
		return fmt.Errorf("%w: send message: %v", ErrTransport, err)
	}
	return nil
}

// CloseSend half-closes the client side of a client-streaming or
// bidirectional call; the server may still send responses afterward.
func (c *Call) CloseSend() error {
	return c.stream.CloseSend()
}

// Cancel records status Cancelled on the connection and appends a
// ConnectionEnd{status: Cancelled} event. It does not close or cancel the
// underlying stream; the receive loop keeps running until the stream ends.
func (c *Call) Cancel(ctx context.Context) {
	_ = c.gc.Update(ctx, func(conn *store.GrpcConnection) {
		conn.Status = int32(codes.Canceled)
		conn.StatusName = codes.Canceled.String()
	})
	c.gc.Emit(store.GrpcEventConnectionEnd, func(ev *store.GrpcEvent) { ev.StatusName = codes.Canceled.String() })
}

// Done is closed once the receive loop has finished and the connection's
// terminal status has been recorded.
func (c *Call) Done() <-chan struct{} { return c.done }

func (c *Call) startReceiveLoop(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			resp := dynamicpb.NewMessage(c.output)
			err := c.stream.RecvMsg(resp)
			if err == io.EOF {
				c.finish(ctx, nil)
				return
			}
			if err != nil {
				c.finish(ctx, err)
				return
			}
			jsonMsg, encErr := c.codec.Decode(resp)
			if encErr != nil {
				c.finish(ctx, encErr)
				return
			}
			c.gc.Emit(store.GrpcEventServerMessage, func(ev *store.GrpcEvent) { ev.Message = jsonMsg })
		}
	}()
}

func (c *Call) finish(ctx context.Context, recvErr error) {
	st, _ := status.FromError(recvErr)
	code := st.Code()
	c.gc.Emit(store.GrpcEventConnectionEnd, func(ev *store.GrpcEvent) { ev.StatusName = code.String() })
	_ = c.gc.Update(ctx, func(conn *store.GrpcConnection) {
		conn.Status = int32(code)
		conn.StatusName = code.String()
		if recvErr != nil {
			conn.Error = st.Message()
		}
	})
}
