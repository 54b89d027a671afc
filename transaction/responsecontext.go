package transaction

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yaak-app/yaakengine/store"
)

// ResponseContext is the transactional handle the engine mutates as a send
// progresses. Update guarantees the persisted response record monotonically
// advances: every call locks, applies fn, stamps UpdatedAt, and upserts
// before releasing, so no caller ever observes (or persists) a
// partially-applied mutation. Grounded on cluster/controller.go's
// GlobalCookieJar (RWMutex-guarded shared state, versioned snapshot reads)
// generalized from "many readers, rare writer" to "single owner task,
// serialized writes" since only the transaction engine ever mutates a given
// response.
//
// Event persistence runs on its own goroutine reading from a channel of
// capacity 100 (spec.md §5), so HttpResponseEvent rows for a response are
// always upserted in emission order (one persister, one writer) and the
// network loop is paced by backpressure once the model store falls behind.
type ResponseContext struct {
	store store.ModelStore
	src   store.UpdateSource

	mu   sync.Mutex
	resp *store.HttpResponse

	events   chan *store.HttpResponseEvent
	wg       sync.WaitGroup
	eventSeq uint64
}

// NewResponseContext wraps resp (already upserted with state=Initialized by
// the caller) and starts its event-persistence goroutine.
func NewResponseContext(st store.ModelStore, resp *store.HttpResponse, src store.UpdateSource) *ResponseContext {
	rc := &ResponseContext{
		store:  st,
		src:    src,
		resp:   resp,
		events: make(chan *store.HttpResponseEvent, 100),
	}
	rc.wg.Add(1)
	go rc.persistEvents()
	return rc
}

func (rc *ResponseContext) persistEvents() {
	defer rc.wg.Done()
	// Each persisted event gets a fresh background context: the engine's
	// own ctx may already be canceled by the time the final events for a
	// canceled send drain, but the events themselves must still land.
	for ev := range rc.events {
		_ = rc.store.UpsertHttpResponseEvent(context.Background(), ev, rc.src)
	}
}

// Emit enqueues ev for persistence, blocking if the queue is full.
func (rc *ResponseContext) Emit(kind store.HttpResponseEventKind, fill func(*store.HttpResponseEvent)) {
	ev := &store.HttpResponseEvent{
		ID:         rc.nextEventID(),
		ResponseID: rc.resp.ID,
		Kind:       kind,
		CreatedAt:  time.Now(),
	}
	if fill != nil {
		fill(ev)
	}
	rc.events <- ev
}

// nextEventID hands out a per-response monotonic id; the model store is
// free to assign its own durable identity on upsert.
func (rc *ResponseContext) nextEventID() string {
	n := atomic.AddUint64(&rc.eventSeq, 1)
	return rc.resp.ID + "-ev-" + strconv.FormatUint(n, 10)
}

// Update applies fn to the current response record under lock and upserts
// the result, returning the model store's upsert error (if any).
func (rc *ResponseContext) Update(ctx context.Context, fn func(*store.HttpResponse)) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	fn(rc.resp)
	rc.resp.UpdatedAt = time.Now()
	return rc.store.UpsertHttpResponse(ctx, rc.resp, rc.src)
}

// Snapshot returns a copy of the response record as it currently stands.
func (rc *ResponseContext) Snapshot() store.HttpResponse {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return *rc.resp
}

// Close stops accepting new events, drains the ones already queued, and
// waits for the persister goroutine to exit. Callers must not call Emit
// after Close.
func (rc *ResponseContext) Close() {
	close(rc.events)
	rc.wg.Wait()
}
