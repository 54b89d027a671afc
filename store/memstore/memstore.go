// Package memstore is an in-memory store.ModelStore/store.BlobStore pair
// used by tests and cmd/yaakengine so the transaction core is exercisable
// without a real database.
//
// The table design mirrors cluster.GlobalCookieJar from the teacher
// repository: a sync.RWMutex guards a plain map, writes go through a single
// method that also fans out to any registered change-event subscribers, and
// reads take the cheap RLock path.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yaak-app/yaakengine/store"
)

// Store is an in-memory store.ModelStore.
type Store struct {
	mu sync.RWMutex

	requests     map[string]*store.HttpRequest
	folders      map[string]*store.Folder
	workspaces   map[string]*store.Workspace
	environments map[string]*store.Environment

	responses      map[string]*store.HttpResponse
	responseEvents map[string][]*store.HttpResponseEvent
	responseOrder  map[string][]string // requestID -> response IDs, oldest first

	wsConns  map[string]*store.WebsocketConnection
	wsEvents map[string][]*store.WebsocketEvent

	grpcConns  map[string]*store.GrpcConnection
	grpcEvents map[string][]*store.GrpcEvent

	cookieJars map[string][]string

	// ResponseHistoryLimit bounds how many HttpResponse records are kept per
	// request id; the oldest are evicted (and their blobs deleted) once a new
	// upsert pushes the count over. Zero means use the default of 20.
	ResponseHistoryLimit int

	blobs *MemBlobStore

	subsMu sync.Mutex
	subs   []chan store.ChangeEvent
}

// New creates an empty Store backed by an in-memory BlobStore.
func New() *Store {
	return &Store{
		requests:       make(map[string]*store.HttpRequest),
		folders:        make(map[string]*store.Folder),
		workspaces:     make(map[string]*store.Workspace),
		environments:   make(map[string]*store.Environment),
		responses:      make(map[string]*store.HttpResponse),
		responseEvents: make(map[string][]*store.HttpResponseEvent),
		responseOrder:  make(map[string][]string),
		wsConns:        make(map[string]*store.WebsocketConnection),
		wsEvents:       make(map[string][]*store.WebsocketEvent),
		grpcConns:      make(map[string]*store.GrpcConnection),
		grpcEvents:     make(map[string][]*store.GrpcEvent),
		cookieJars:     make(map[string][]string),
		blobs:          NewBlobStore(),
	}
}

// Blobs returns the store's paired in-memory BlobStore.
func (s *Store) Blobs() *MemBlobStore { return s.blobs }

func (s *Store) historyLimit() int {
	if s.ResponseHistoryLimit <= 0 {
		return 20
	}
	return s.ResponseHistoryLimit
}

// Seed registers fixtures directly; intended for tests and cmd/yaakengine.
func (s *Store) Seed(ws *store.Workspace, folders []*store.Folder, req *store.HttpRequest, envs []*store.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws != nil {
		s.workspaces[ws.ID] = ws
	}
	for _, f := range folders {
		s.folders[f.ID] = f
	}
	if req != nil {
		s.requests[req.ID] = req
	}
	for _, e := range envs {
		cp := e
		s.environments[e.ID] = cp
	}
}

func (s *Store) publish(ev store.ChangeEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Drop rather than block a slow subscriber; matches the
			// teacher's dashboard SSE fan-out ("drop if full").
		}
	}
}

func (s *Store) Changes(ctx context.Context) <-chan store.ChangeEvent {
	ch := make(chan store.ChangeEvent, 32)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (s *Store) GetHttpRequest(_ context.Context, id string) (*store.HttpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("memstore: http request %q: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetFolder(_ context.Context, id string) (*store.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, fmt.Errorf("memstore: folder %q: %w", id, ErrNotFound)
	}
	return f, nil
}

func (s *Store) GetWorkspace(_ context.Context, id string) (*store.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("memstore: workspace %q: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *Store) GetEnvironment(_ context.Context, id string) (*store.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.environments[id]
	if !ok {
		return nil, fmt.Errorf("memstore: environment %q: %w", id, ErrNotFound)
	}
	return e, nil
}

// ResolveEnvironments returns every Environment registered for workspaceID,
// ordered base-first. envID, if non-nil, is moved to the end (most
// specific) regardless of registration order. folderID is accepted for
// interface symmetry but unused: this reference store has no notion of
// folder-scoped environments.
func (s *Store) ResolveEnvironments(_ context.Context, workspaceID string, _ *string, envID *string) ([]store.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var base []store.Environment
	var specific *store.Environment
	for _, e := range s.environments {
		if e.WorkspaceID != workspaceID {
			continue
		}
		if envID != nil && e.ID == *envID {
			cp := *e
			specific = &cp
			continue
		}
		base = append(base, *e)
	}
	sort.Slice(base, func(i, j int) bool { return base[i].ID < base[j].ID })
	if specific != nil {
		base = append(base, *specific)
	}
	return base, nil
}

func (s *Store) UpsertHttpResponse(_ context.Context, resp *store.HttpResponse, src store.UpdateSource) error {
	s.mu.Lock()
	_, existed := s.responses[resp.ID]
	resp.UpdatedAt = now()
	if !existed {
		resp.CreatedAt = resp.UpdatedAt
		s.responseOrder[resp.RequestID] = append(s.responseOrder[resp.RequestID], resp.ID)
	}
	s.responses[resp.ID] = resp
	evicted := s.evictOldResponsesLocked(resp.RequestID)
	s.mu.Unlock()

	for _, id := range evicted {
		_ = s.blobs.Delete(context.Background(), id)
	}
	s.publish(store.ChangeEvent{Table: "http_response", ID: resp.ID, Source: src})
	return nil
}

// evictOldResponsesLocked must be called with s.mu held. It trims
// responseOrder[requestID] down to the history limit and returns the ids of
// evicted responses.
func (s *Store) evictOldResponsesLocked(requestID string) []string {
	order := s.responseOrder[requestID]
	limit := s.historyLimit()
	if len(order) <= limit {
		return nil
	}
	cut := len(order) - limit
	evicted := append([]string(nil), order[:cut]...)
	s.responseOrder[requestID] = order[cut:]
	for _, id := range evicted {
		delete(s.responses, id)
		delete(s.responseEvents, id)
	}
	return evicted
}

func (s *Store) UpdateHttpResponseIfID(_ context.Context, id string, fn func(*store.HttpResponse), src store.UpdateSource) (*store.HttpResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, fmt.Errorf("memstore: update response %q: %w", id, ErrNotFound)
	}
	fn(r)
	r.UpdatedAt = now()
	s.publish(store.ChangeEvent{Table: "http_response", ID: id, Source: src})
	return r, nil
}

func (s *Store) UpsertHttpResponseEvent(_ context.Context, ev *store.HttpResponseEvent, src store.UpdateSource) error {
	s.mu.Lock()
	ev.CreatedAt = now()
	s.responseEvents[ev.ResponseID] = append(s.responseEvents[ev.ResponseID], ev)
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "http_response_event", ID: ev.ID, Source: src})
	return nil
}

func (s *Store) DeleteHttpResponse(_ context.Context, id string, src store.UpdateSource) error {
	s.mu.Lock()
	r, ok := s.responses[id]
	if ok {
		order := s.responseOrder[r.RequestID]
		for i, oid := range order {
			if oid == id {
				s.responseOrder[r.RequestID] = append(order[:i], order[i+1:]...)
				break
			}
		}
	}
	delete(s.responses, id)
	delete(s.responseEvents, id)
	s.mu.Unlock()
	_ = s.blobs.Delete(context.Background(), id)
	s.publish(store.ChangeEvent{Table: "http_response", ID: id, Source: src})
	return nil
}

// ListHttpResponseEvents returns the event log for one response, oldest
// first. Not part of store.ModelStore; a read accessor for tests and the
// cmd/yaakengine demo, mirroring Blobs().
func (s *Store) ListHttpResponseEvents(_ context.Context, responseID string) ([]*store.HttpResponseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*store.HttpResponseEvent(nil), s.responseEvents[responseID]...), nil
}

func (s *Store) ListHttpResponses(_ context.Context, requestID string) ([]*store.HttpResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.HttpResponse
	for _, id := range s.responseOrder[requestID] {
		if r, ok := s.responses[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) UpsertWebsocketConnection(_ context.Context, conn *store.WebsocketConnection, src store.UpdateSource) error {
	s.mu.Lock()
	if _, existed := s.wsConns[conn.ID]; !existed {
		conn.CreatedAt = now()
	}
	conn.UpdatedAt = now()
	s.wsConns[conn.ID] = conn
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "websocket_connection", ID: conn.ID, Source: src})
	return nil
}

func (s *Store) UpdateWebsocketConnectionIfID(_ context.Context, id string, fn func(*store.WebsocketConnection), src store.UpdateSource) (*store.WebsocketConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.wsConns[id]
	if !ok {
		return nil, fmt.Errorf("memstore: update ws connection %q: %w", id, ErrNotFound)
	}
	fn(c)
	c.UpdatedAt = now()
	s.publish(store.ChangeEvent{Table: "websocket_connection", ID: id, Source: src})
	return c, nil
}

func (s *Store) UpsertWebsocketEvent(_ context.Context, ev *store.WebsocketEvent, src store.UpdateSource) error {
	s.mu.Lock()
	ev.CreatedAt = now()
	s.wsEvents[ev.ConnectionID] = append(s.wsEvents[ev.ConnectionID], ev)
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "websocket_event", ID: ev.ID, Source: src})
	return nil
}

// ListWebsocketEvents returns the frame log for one connection, oldest
// first. Not part of store.ModelStore; a read accessor for tests,
// mirroring ListHttpResponseEvents.
func (s *Store) ListWebsocketEvents(_ context.Context, connectionID string) ([]*store.WebsocketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*store.WebsocketEvent(nil), s.wsEvents[connectionID]...), nil
}

func (s *Store) DeleteWebsocketConnection(_ context.Context, id string, src store.UpdateSource) error {
	s.mu.Lock()
	delete(s.wsConns, id)
	delete(s.wsEvents, id)
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "websocket_connection", ID: id, Source: src})
	return nil
}

func (s *Store) UpsertGrpcConnection(_ context.Context, conn *store.GrpcConnection, src store.UpdateSource) error {
	s.mu.Lock()
	if _, existed := s.grpcConns[conn.ID]; !existed {
		conn.CreatedAt = now()
	}
	conn.UpdatedAt = now()
	s.grpcConns[conn.ID] = conn
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "grpc_connection", ID: conn.ID, Source: src})
	return nil
}

func (s *Store) UpdateGrpcConnectionIfID(_ context.Context, id string, fn func(*store.GrpcConnection), src store.UpdateSource) (*store.GrpcConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.grpcConns[id]
	if !ok {
		return nil, fmt.Errorf("memstore: update grpc connection %q: %w", id, ErrNotFound)
	}
	fn(c)
	c.UpdatedAt = now()
	s.publish(store.ChangeEvent{Table: "grpc_connection", ID: id, Source: src})
	return c, nil
}

func (s *Store) UpsertGrpcEvent(_ context.Context, ev *store.GrpcEvent, src store.UpdateSource) error {
	s.mu.Lock()
	ev.CreatedAt = now()
	s.grpcEvents[ev.ConnectionID] = append(s.grpcEvents[ev.ConnectionID], ev)
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "grpc_event", ID: ev.ID, Source: src})
	return nil
}

// ListGrpcEvents returns the event log for one connection, oldest first.
// Not part of store.ModelStore; a read accessor for tests, mirroring
// ListWebsocketEvents.
func (s *Store) ListGrpcEvents(_ context.Context, connectionID string) ([]*store.GrpcEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*store.GrpcEvent(nil), s.grpcEvents[connectionID]...), nil
}

func (s *Store) DeleteGrpcConnection(_ context.Context, id string, src store.UpdateSource) error {
	s.mu.Lock()
	delete(s.grpcConns, id)
	delete(s.grpcEvents, id)
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "grpc_connection", ID: id, Source: src})
	return nil
}

func (s *Store) UpsertCookieJar(_ context.Context, workspaceID string, rawCookies []string, src store.UpdateSource) error {
	s.mu.Lock()
	s.cookieJars[workspaceID] = rawCookies
	s.mu.Unlock()
	s.publish(store.ChangeEvent{Table: "cookie_jar", ID: workspaceID, Source: src})
	return nil
}

func (s *Store) GetCookieJar(_ context.Context, workspaceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.cookieJars[workspaceID]...), nil
}

// ErrNotFound is returned when a lookup key has no matching record.
var ErrNotFound = fmt.Errorf("not found")

func now() time.Time { return time.Now() }
