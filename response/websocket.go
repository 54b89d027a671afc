// Package response holds the per-connection event-log contexts that the
// WebSocket (wsconn) and gRPC (grpcconn) managers advance, following the
// same shape as transaction.ResponseContext: a bounded event channel
// drained by exactly one persister goroutine per connection, so frame/
// message log rows land in emission order (spec.md Â§5: "WebsocketEvent
// rows are strictly ordered per connection").
//
// HTTP's own ResponseContext lives in the transaction package rather than
// here, since its seal/redirect bookkeeping is entangled with the HTTP
// state machine; this package holds the two connection kinds (WebSocket,
// gRPC) that have no other natural home.
package response

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yaak-app/yaakengine/store"
)

// WebsocketContext owns one WebsocketConnection's mutation and event-log
// persistence lifecycle.
type WebsocketContext struct {
	store store.ModelStore
	src   store.UpdateSource

	mu   sync.Mutex
	conn *store.WebsocketConnection

	events   chan *store.WebsocketEvent
	wg       sync.WaitGroup
	eventSeq uint64
}

// NewWebsocketContext wraps conn (already upserted with state=Initialized
// by the caller) and starts its event-persistence goroutine.
func NewWebsocketContext(st store.ModelStore, conn *store.WebsocketConnection, src store.UpdateSource) *WebsocketContext {
	wc := &WebsocketContext{
		store:  st,
		src:    src,
		conn:   conn,
		events: make(chan *store.WebsocketEvent, 100),
	}
	wc.wg.Add(1)
	go wc.persistEvents()
	return wc
}

func (wc *WebsocketContext) persistEvents() {
	defer wc.wg.Done()
	for ev := range wc.events {
		_ = wc.store.UpsertWebsocketEvent(context.Background(), ev, wc.src)
	}
}

// Emit enqueues a frame-log entry, blocking if the queue is full.
func (wc *WebsocketContext) Emit(kind store.WebsocketEventKind, isServer bool, data []byte) {
	n := atomic.AddUint64(&wc.eventSeq, 1)
	wc.events <- &store.WebsocketEvent{
		ID:           wc.conn.ID + "-ev-" + strconv.FormatUint(n, 10),
		ConnectionID: wc.conn.ID,
		Kind:         kind,
		Data:         data,
		IsServer:     isServer,
		CreatedAt:    time.Now(),
	}
}

// Update applies fn to the current connection record under lock and
// upserts the result.
func (wc *WebsocketContext) Update(ctx context.Context, fn func(*store.WebsocketConnection)) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	fn(wc.conn)
	wc.conn.UpdatedAt = time.Now()
	return wc.store.UpsertWebsocketConnection(ctx, wc.conn, wc.src)
}

// Snapshot returns a copy of the connection record as it currently stands.
func (wc *WebsocketContext) Snapshot() store.WebsocketConnection {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return *wc.conn
}

// Close stops accepting new events, drains the ones already queued, and
// waits for the persister goroutine to exit.
func (wc *WebsocketContext) Close() {
	close(wc.events)
	wc.wg.Wait()
}
