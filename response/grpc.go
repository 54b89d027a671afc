package response

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yaak-app/yaakengine/store"
)

// GrpcContext owns one GrpcConnection's mutation and event-log persistence
// lifecycle, mirroring WebsocketContext.
type GrpcContext struct {
	store store.ModelStore
	src   store.UpdateSource

	mu   sync.Mutex
	conn *store.GrpcConnection

	events   chan *store.GrpcEvent
	wg       sync.WaitGroup
	eventSeq uint64
}

// NewGrpcContext wraps conn (already upserted by the caller) and starts its
// event-persistence goroutine.
func NewGrpcContext(st store.ModelStore, conn *store.GrpcConnection, src store.UpdateSource) *GrpcContext {
	gc := &GrpcContext{
		store:  st,
		src:    src,
		conn:   conn,
		events: make(chan *store.GrpcEvent, 100),
	}
	gc.wg.Add(1)
	go gc.persistEvents()
	return gc
}

func (gc *GrpcContext) persistEvents() {
	defer gc.wg.Done()
	for ev := range gc.events {
		_ = gc.store.UpsertGrpcEvent(context.Background(), ev, gc.src)
	}
}

// Emit enqueues a connection-log entry, blocking if the queue is full.
func (gc *GrpcContext) Emit(kind store.GrpcEventKind, fill func(*store.GrpcEvent)) {
	n := atomic.AddUint64(&gc.eventSeq, 1)
	ev := &store.GrpcEvent{
		ID:           gc.conn.ID + "-ev-" + strconv.FormatUint(n, 10),
		ConnectionID: gc.conn.ID,
		Kind:         kind,
		CreatedAt:    time.Now(),
	}
	if fill != nil {
		fill(ev)
	}
	gc.events <- ev
}

// Update applies fn to the current connection record under lock and
// upserts the result.
func (gc *GrpcContext) Update(ctx context.Context, fn func(*store.GrpcConnection)) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	fn(gc.conn)
	gc.conn.UpdatedAt = time.Now()
	return gc.store.UpsertGrpcConnection(ctx, gc.conn, gc.src)
}

// Snapshot returns a copy of the connection record as it currently stands.
func (gc *GrpcContext) Snapshot() store.GrpcConnection {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return *gc.conn
}

// Close stops accepting new events, drains the ones already queued, and
// waits for the persister goroutine to exit.
func (gc *GrpcContext) Close() {
	close(gc.events)
	gc.wg.Wait()
}
