// Package httpsend turns a resolved request (resolver.Resolved) into the
// wire-ready Sendable form spec.md Â§4.D describes: method, URL, ordered
// headers, a body of one of three shapes, and the redirect/timeout
// options the transaction engine consumes.
//
// Grounded on the teacher's client/ordered_header.go (OrderedHeader is
// reused verbatim as the Sendable's header list, since it already
// preserves exact capitalisation and insertion order) and
// client/client.go's transport-construction style for the options shape.
package httpsend

import (
	"io"
	"time"

	"github.com/yaak-app/yaakengine/client"
)

// BodyKind tags which of the three Sendable body shapes is present.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBytes
	BodyStream
)

// Body is the Sendable's wire body: either absent, fully buffered, or a
// stream with an optional known length (-1 means unknown, chunked).
type Body struct {
	Kind          BodyKind
	Bytes         []byte
	Stream        io.Reader
	ContentLength int64
}

// Options bounds how the transaction engine drives the Sendable.
type Options struct {
	FollowRedirects      bool
	ValidateCertificates bool
	Timeout              time.Duration // zero means no timeout
	MaxRedirects         uint32
}

// DefaultMaxRedirects matches spec.md Â§4.D's documented default; Â§9 flags
// that this must be exposed as configuration rather than hard-coded,
// which config.Config.MaxRedirects does â€” this constant is the
// fallback BuildUnauthenticated uses when passed 0, and the one
// transaction.Engine.Execute uses for Options whose MaxRedirects is 0.
const DefaultMaxRedirects = 10

// Sendable is the wire-ready form of a resolved request.
type Sendable struct {
	Method  string
	URL     string
	Headers *client.OrderedHeader
	Body    Body
	Options Options
}
