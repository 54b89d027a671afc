// Package store defines the data model and external-collaborator contracts
// the transaction core consumes: a model store (key-value/relational
// persistence exposing typed upserts and change events) and a blob store
// (content-addressable chunked byte storage). The core never talks to a
// database directly; it only ever calls through these interfaces, following
// the teacher's pattern of keeping collaborators behind narrow contracts
// (config.Config is loaded once and passed by reference rather than read
// from a global).
package store

import (
	"encoding/json"
	"time"
)

// NameValue is an ordered, individually-toggleable key/value pair used for
// headers and URL parameters. Order within a slice is significant.
type NameValue struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// Settings groups the per-request/folder/workspace fields that participate
// in inheritance resolution. A nil pointer means "not set here, inherit".
type Settings struct {
	ValidateCertificates *bool `json:"validate_certificates,omitempty"`
	FollowRedirects      *bool `json:"follow_redirects,omitempty"`
	RequestTimeoutMs     *int  `json:"request_timeout_ms,omitempty"`
}

// HttpRequest is a stored, templated HTTP request definition.
type HttpRequest struct {
	ID         string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	FolderID   *string `json:"folder_id,omitempty"`

	Method        string      `json:"method"`
	URL           string      `json:"url"`
	Headers       []NameValue `json:"headers"`
	URLParameters []NameValue `json:"url_parameters"`

	Body     map[string]json.RawMessage `json:"body"`
	BodyType string                     `json:"body_type"`

	// AuthenticationType is nil to inherit, "none" to explicitly disable, or
	// a plugin auth-type name.
	AuthenticationType *string                    `json:"authentication_type,omitempty"`
	Authentication     map[string]json.RawMessage `json:"authentication,omitempty"`

	Settings

	// Description and SortPriority are model-store bookkeeping fields
	// carried through untouched so the resolver's output is a faithful
	// clone of the stored record; the transaction core never inspects them.
	Description  string `json:"description,omitempty"`
	SortPriority float64 `json:"sort_priority,omitempty"`
}

// Folder is an intermediate node in the workspace -> folder chain. Folders
// nest via ParentFolderID, terminating at the workspace root.
type Folder struct {
	ID             string  `json:"id"`
	WorkspaceID    string  `json:"workspace_id"`
	ParentFolderID *string `json:"folder_id,omitempty"`
	Name           string  `json:"name"`

	Headers []NameValue `json:"headers"`

	AuthenticationType *string                    `json:"authentication_type,omitempty"`
	Authentication     map[string]json.RawMessage `json:"authentication,omitempty"`

	Settings
}

// Workspace is the inheritance root.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Headers []NameValue `json:"headers"`

	AuthenticationType *string                    `json:"authentication_type,omitempty"`
	Authentication     map[string]json.RawMessage `json:"authentication,omitempty"`

	Settings
}

// EnvironmentVariable is one entry of an Environment's variable chain link.
type EnvironmentVariable struct {
	// ID is model-store identity; unused by rendering but preserved on the
	// resolved record.
	ID      string `json:"id"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// Environment is one link in the variable-resolution chain. Callers supply
// the chain ordered base (workspace-level) first, specific last; variable
// resolution walks it from most-specific back to base.
type Environment struct {
	ID          string                 `json:"id"`
	WorkspaceID string                 `json:"workspace_id"`
	Name        string                 `json:"name"`
	Variables   []EnvironmentVariable  `json:"variables"`
}

// ResponseState is the lifecycle state of an HttpResponse.
type ResponseState string

const (
	ResponseInitialized ResponseState = "Initialized"
	ResponseConnected   ResponseState = "Connected"
	ResponseClosed      ResponseState = "Closed"
)

// HttpResponse is the mutable record the Transaction Engine advances for the
// duration of one send.
type HttpResponse struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	WorkspaceID string `json:"workspace_id"`

	State ResponseState `json:"state"`

	Status              int    `json:"status,omitempty"`
	StatusReason        string `json:"status_reason,omitempty"`
	URL                 string `json:"url,omitempty"`
	RemoteAddr          string `json:"remote_addr,omitempty"`
	Version             string `json:"version,omitempty"`
	Headers             []NameValue `json:"headers,omitempty"`
	RequestHeaders      []NameValue `json:"request_headers,omitempty"`
	ContentLength           int64 `json:"content_length,omitempty"`
	ContentLengthCompressed int64 `json:"content_length_compressed,omitempty"`
	RequestContentLength    int64 `json:"request_content_length,omitempty"`
	ElapsedMs        int64  `json:"elapsed_ms,omitempty"`
	ElapsedHeadersMs int64  `json:"elapsed_headers_ms,omitempty"`
	BodyPath         string `json:"body_path,omitempty"`
	Error            string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HttpResponseEventKind tags the variant carried by one event row.
type HttpResponseEventKind string

const (
	EventInfo            HttpResponseEventKind = "Info"
	EventSetting         HttpResponseEventKind = "Setting"
	EventChunkSent       HttpResponseEventKind = "ChunkSent"
	EventHeadersReceived HttpResponseEventKind = "HeadersReceived"
	EventBodyChunk       HttpResponseEventKind = "BodyChunk"
	EventTiming          HttpResponseEventKind = "Timing"
)

// HttpResponseEvent is one append-only entry in a response's event log.
type HttpResponseEvent struct {
	ID         string                `json:"id"`
	ResponseID string                `json:"response_id"`
	Kind       HttpResponseEventKind `json:"kind"`
	Text       string                `json:"text,omitempty"`
	SettingKey string                `json:"setting_key,omitempty"`
	SettingVal string                `json:"setting_value,omitempty"`
	Bytes      int64                 `json:"bytes,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

// WebsocketState is the lifecycle state of a WebsocketConnection.
type WebsocketState string

const (
	WSInitialized WebsocketState = "Initialized"
	WSConnecting  WebsocketState = "Connecting"
	WSConnected   WebsocketState = "Connected"
	WSClosing     WebsocketState = "Closing"
	WSClosed      WebsocketState = "Closed"
)

// WebsocketRequest mirrors HttpRequest for a ws:// / wss:// upgrade.
type WebsocketRequest struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	FolderID    *string `json:"folder_id,omitempty"`

	URL           string      `json:"url"`
	Headers       []NameValue `json:"headers"`
	URLParameters []NameValue `json:"url_parameters"`
	Message       string      `json:"message"`

	AuthenticationType *string                    `json:"authentication_type,omitempty"`
	Authentication     map[string]json.RawMessage `json:"authentication,omitempty"`

	Settings
}

// WebsocketConnection is the mutable record a WebSocket manager advances.
type WebsocketConnection struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	State     WebsocketState `json:"state"`

	Status  int         `json:"status,omitempty"`
	URL     string      `json:"url,omitempty"`
	Headers []NameValue `json:"headers,omitempty"`
	Error   string      `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebsocketEventKind tags the variant carried by one frame-log entry.
type WebsocketEventKind string

const (
	WSEventOpen   WebsocketEventKind = "Open"
	WSEventText   WebsocketEventKind = "Text"
	WSEventBinary WebsocketEventKind = "Binary"
	WSEventPing   WebsocketEventKind = "Ping"
	WSEventPong   WebsocketEventKind = "Pong"
	WSEventClose  WebsocketEventKind = "Close"
	WSEventFrame  WebsocketEventKind = "Frame"
)

// WebsocketEvent is one append-only entry of a connection's frame log.
type WebsocketEvent struct {
	ID           string             `json:"id"`
	ConnectionID string             `json:"connection_id"`
	Kind         WebsocketEventKind `json:"kind"`
	Data         []byte             `json:"data,omitempty"`
	IsServer     bool               `json:"is_server"`
	CreatedAt    time.Time          `json:"created_at"`
}

// GrpcRequest mirrors HttpRequest for a gRPC call.
type GrpcRequest struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	FolderID    *string `json:"folder_id,omitempty"`

	URL         string   `json:"url"`
	Service     string   `json:"service"`
	Method      string   `json:"method"`
	Message     string   `json:"message"`
	ProtoFiles  []string `json:"proto_files,omitempty"`
	Metadata    []NameValue `json:"metadata"`

	AuthenticationType *string                    `json:"authentication_type,omitempty"`
	Authentication     map[string]json.RawMessage `json:"authentication,omitempty"`

	Settings
}

// GrpcConnection is the mutable record a gRPC manager advances.
type GrpcConnection struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
	Service    string `json:"service"`
	Method     string `json:"method"`
	Status     int32  `json:"status"` // google.golang.org/grpc/codes.Code
	StatusName string `json:"status_name,omitempty"`
	Error      string `json:"error,omitempty"`
	Trailer    []NameValue `json:"trailer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GrpcEventKind tags the variant carried by one gRPC connection event.
type GrpcEventKind string

const (
	GrpcEventInfo           GrpcEventKind = "Info"
	GrpcEventClientMessage  GrpcEventKind = "ClientMessage"
	GrpcEventServerMessage  GrpcEventKind = "ServerMessage"
	GrpcEventError          GrpcEventKind = "Error"
	GrpcEventConnectionStart GrpcEventKind = "ConnectionStart"
	GrpcEventConnectionEnd  GrpcEventKind = "ConnectionEnd"
)

// GrpcEvent is one append-only entry in a gRPC connection's event log.
type GrpcEvent struct {
	ID           string        `json:"id"`
	ConnectionID string        `json:"connection_id"`
	Kind         GrpcEventKind `json:"kind"`
	Text         string        `json:"text,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	StatusName   string        `json:"status_name,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// UpdateSource tags who caused a mutation, so the persistence layer can
// avoid feedback loops ("don't notify the window that initiated this
// edit") without resorting to global state.
type UpdateSource struct {
	Kind  UpdateSourceKind `json:"kind"`
	Label string           `json:"label,omitempty"` // set when Kind == UpdateSourceWindow
}

type UpdateSourceKind string

const (
	UpdateSourceSync       UpdateSourceKind = "Sync"
	UpdateSourcePlugin     UpdateSourceKind = "Plugin"
	UpdateSourceBackground UpdateSourceKind = "Background"
	UpdateSourceWindow     UpdateSourceKind = "Window"
	UpdateSourceImport     UpdateSourceKind = "Import"
)
