package store

import "context"

// ChangeEvent is broadcast whenever the model store mutates a record the
// core cares about, tagged with the UpdateSource that caused it.
type ChangeEvent struct {
	Table  string
	ID     string
	Source UpdateSource
}

// ModelStore is the persistence collaborator the core calls through. The
// core never opens a database connection itself; every read/write of a
// persisted record goes through this contract, mirroring the teacher's
// habit of taking a *config.Config by reference instead of reading global
// state.
type ModelStore interface {
	GetHttpRequest(ctx context.Context, id string) (*HttpRequest, error)
	GetFolder(ctx context.Context, id string) (*Folder, error)
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	GetEnvironment(ctx context.Context, id string) (*Environment, error)

	// ResolveEnvironments returns the variable-resolution chain for the
	// given scope, ordered base (workspace-level) first, specific last.
	ResolveEnvironments(ctx context.Context, workspaceID string, folderID, envID *string) ([]Environment, error)

	UpsertHttpResponse(ctx context.Context, resp *HttpResponse, src UpdateSource) error
	// UpdateHttpResponseIfID applies fn to the current record only if it
	// still exists with the given id, returning the updated record.
	UpdateHttpResponseIfID(ctx context.Context, id string, fn func(*HttpResponse), src UpdateSource) (*HttpResponse, error)
	UpsertHttpResponseEvent(ctx context.Context, ev *HttpResponseEvent, src UpdateSource) error
	DeleteHttpResponse(ctx context.Context, id string, src UpdateSource) error
	ListHttpResponses(ctx context.Context, requestID string) ([]*HttpResponse, error)

	UpsertWebsocketConnection(ctx context.Context, conn *WebsocketConnection, src UpdateSource) error
	UpdateWebsocketConnectionIfID(ctx context.Context, id string, fn func(*WebsocketConnection), src UpdateSource) (*WebsocketConnection, error)
	UpsertWebsocketEvent(ctx context.Context, ev *WebsocketEvent, src UpdateSource) error
	DeleteWebsocketConnection(ctx context.Context, id string, src UpdateSource) error

	UpsertGrpcConnection(ctx context.Context, conn *GrpcConnection, src UpdateSource) error
	UpdateGrpcConnectionIfID(ctx context.Context, id string, fn func(*GrpcConnection), src UpdateSource) (*GrpcConnection, error)
	UpsertGrpcEvent(ctx context.Context, ev *GrpcEvent, src UpdateSource) error
	DeleteGrpcConnection(ctx context.Context, id string, src UpdateSource) error

	// UpsertCookieJar / GetCookieJar persist the raw Set-Cookie strings the
	// cookiejar package has parsed; the jar's matching logic lives in the
	// cookiejar package, not here.
	UpsertCookieJar(ctx context.Context, workspaceID string, rawCookies []string, src UpdateSource) error
	GetCookieJar(ctx context.Context, workspaceID string) ([]string, error)

	// Changes returns a channel of change events. Closing ctx stops delivery.
	Changes(ctx context.Context) <-chan ChangeEvent
}

// BlobStore is the content-addressable chunked byte storage collaborator.
type BlobStore interface {
	// InsertChunk appends bytes at the given index under bodyID. Chunks
	// must not exceed 1 MiB; callers are responsible for splitting larger
	// payloads before calling.
	InsertChunk(ctx context.Context, bodyID string, index int, b []byte) error
	// Path returns the filesystem (or addressable) path bodyID was written
	// to, once sealed.
	Path(ctx context.Context, bodyID string) (string, error)
	// Seal finalizes bodyID, returning its final size in bytes.
	Seal(ctx context.Context, bodyID string) (int64, error)
	// Delete removes every chunk and the sealed blob for bodyID.
	Delete(ctx context.Context, bodyID string) error
}
