package transaction

import (
	"context"
	"io"
	"sync"

	"github.com/yaak-app/yaakengine/store"
)

// maxBlobChunk is the largest slice InsertChunk accepts in one call, per
// spec.md §4.E/§6 ("chunks of up to 1 MiB").
const maxBlobChunk = 1 << 20

// chunkWriter drains a bounded queue of byte slices into a store.BlobStore,
// one goroutine per body, grounded on worker.WorkerPool's
// "buffered channel + single draining goroutine + WaitGroup" shape,
// generalized from "N workers draining one job queue" down to "one
// persister draining one body's chunk queue". The bound (10, per spec.md
// §5) applies back-pressure: once the queue is full, Write blocks the
// network read loop until the blob store keeps up.
type chunkWriter struct {
	blob   store.BlobStore
	bodyID string
	queue  chan []byte
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func newChunkWriter(ctx context.Context, blob store.BlobStore, bodyID string) *chunkWriter {
	cw := &chunkWriter{blob: blob, bodyID: bodyID, queue: make(chan []byte, 10)}
	cw.wg.Add(1)
	go cw.run(ctx)
	return cw
}

func (cw *chunkWriter) run(ctx context.Context) {
	defer cw.wg.Done()
	index := 0
	for chunk := range cw.queue {
		if err := cw.blob.InsertChunk(ctx, cw.bodyID, index, chunk); err != nil {
			cw.mu.Lock()
			if cw.err == nil {
				cw.err = err
			}
			cw.mu.Unlock()
		}
		index++
	}
}

// Write splits p into chunks no larger than maxBlobChunk and enqueues each
// for persistence, blocking when the queue is full.
func (cw *chunkWriter) Write(p []byte) (int, error) {
	b := append([]byte(nil), p...)
	for len(b) > 0 {
		n := len(b)
		if n > maxBlobChunk {
			n = maxBlobChunk
		}
		cw.queue <- b[:n]
		b = b[n:]
	}
	return len(p), nil
}

// Close drains the queue and returns the first persistence error observed,
// if any.
func (cw *chunkWriter) Close() error {
	close(cw.queue)
	cw.wg.Wait()
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.err
}

// teeReader mirrors bytes read from r into a chunkWriter while also
// invoking onChunk with the number of bytes read, so callers can emit
// BodyChunk events and advance content_length bookkeeping without
// buffering the whole body.
type teeReader struct {
	r       io.Reader
	cw      *chunkWriter
	onChunk func(n int)
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if _, werr := t.cw.Write(p[:n]); werr != nil && err == nil {
			err = werr
		}
		if t.onChunk != nil {
			t.onChunk(n)
		}
	}
	return n, err
}
