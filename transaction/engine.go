package transaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yaak-app/yaakengine/client"
	"github.com/yaak-app/yaakengine/httpsend"
	"github.com/yaak-app/yaakengine/logger"
	"github.com/yaak-app/yaakengine/metrics"
	"github.com/yaak-app/yaakengine/proxy"
	"github.com/yaak-app/yaakengine/store"
)

// Engine drives one httpsend.Sendable through
// [Build]->[AwaitHeaders]->[StreamBody]->[Done]/[Redirect] against a
// ResponseContext, per spec.md §4.E.
type Engine struct {
	Pool    *Pool
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	// Proxies, if set, supplies one proxy URL per attempt via round-robin,
	// reusing the teacher's proxy.ProxyManager rotation logic. Nil means
	// every connection is made directly.
	Proxies *proxy.ProxyManager
}

// NewEngine constructs an Engine. lg and m may be nil.
func NewEngine(pool *Pool, lg *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{Pool: pool, Logger: lg, Metrics: m}
}

func (e *Engine) proxyURL() string {
	if e.Proxies == nil {
		return ""
	}
	return e.Proxies.GetNextProxy()
}

// Execute sends sendable, following redirects per spec.md §4.E, streaming
// and decompressing the final response body into blobs, and advancing rc
// through Initialized (already done by the caller) -> Connected -> Closed.
// ctx's cancellation realizes the spec's "watch channel flips to true"
// cancellation signal; ctx's deadline (if sendable.Options.Timeout > 0)
// bounds the whole attempt including redirects.
func (e *Engine) Execute(ctx context.Context, sendable *httpsend.Sendable, rc *ResponseContext, blobs store.BlobStore) error {
	if sendable.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sendable.Options.Timeout)
		defer cancel()
	}
	defer rc.Close()

	start := time.Now()
	maxRedirects := sendable.Options.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = httpsend.DefaultMaxRedirects
	}

	rc.Emit(store.EventSetting, func(ev *store.HttpResponseEvent) {
		ev.SettingKey = "redirects"
		ev.SettingVal = "0"
	})

	if e.Metrics != nil {
		e.Metrics.IncrementTotal()
	}

	current := sendable
	redirectCount := 0
	headersSeen := false

	for {
		if err := ctx.Err(); err != nil {
			return e.sealCanceled(rc, start, headersSeen, err)
		}

		httpResp, err := e.attempt(ctx, current, rc, blobs)
		if err != nil {
			if ctx.Err() != nil {
				return e.sealCanceled(rc, start, headersSeen, ctx.Err())
			}
			return e.sealError(rc, start, &RequestError{Message: err.Error()})
		}
		headersSeen = true

		elapsedHeaders := time.Since(start)
		statusReason := http.StatusText(httpResp.StatusCode)

		if updErr := rc.Update(ctx, func(r *store.HttpResponse) {
			r.State = store.ResponseConnected
			r.Status = httpResp.StatusCode
			r.StatusReason = statusReason
			r.URL = current.URL
			r.Version = httpResp.Proto
			r.Headers = headerPairsFromHTTP(httpResp.Header)
			r.RequestHeaders = headerPairsFromOrdered(current.Headers)
			r.ElapsedHeadersMs = elapsedHeaders.Milliseconds()
			if cl := httpResp.ContentLength; cl >= 0 {
				r.ContentLength = cl
			}
		}); updErr != nil {
			httpResp.Body.Close()
			return fmt.Errorf("transaction: persist Connected state: %w", updErr)
		}
		rc.Emit(store.EventHeadersReceived, func(ev *store.HttpResponseEvent) {
			ev.Text = fmt.Sprintf("%d %s", httpResp.StatusCode, statusReason)
		})
		if e.Logger != nil {
			e.Logger.Debugf("transaction: %s %s -> %d", current.Method, current.URL, httpResp.StatusCode)
		}

		if isRedirectStatus(httpResp.StatusCode) && current.Options.FollowRedirects {
			location := httpResp.Header.Get("Location")
			_, _ = io.Copy(io.Discard, httpResp.Body)
			httpResp.Body.Close()

			redirectCount++
			if redirectCount > int(maxRedirects) {
				return e.sealError(rc, start, &RequestError{Message: "Maximum redirect limit exceeded"})
			}
			if location == "" {
				return e.sealError(rc, start, &RequestError{Message: "redirect response missing Location header"})
			}

			next, rerr := nextRedirectRequest(current, httpResp.StatusCode, location)
			if rerr != nil {
				return e.sealError(rc, start, rerr)
			}
			rc.Emit(store.EventInfo, func(ev *store.HttpResponseEvent) {
				ev.Text = fmt.Sprintf("Issuing redirect %d to: %s", redirectCount, next.URL)
			})
			if e.Logger != nil {
				e.Logger.Infof("transaction: issuing redirect %d to: %s", redirectCount, next.URL)
			}
			current = next
			continue
		}

		bodyPath, contentLength, contentLengthCompressed, streamErr := e.streamBody(ctx, httpResp, rc, blobs)
		if streamErr != nil {
			if canceledMidBody(ctx) {
				return e.sealClean(rc, start, bodyPath, contentLength, contentLengthCompressed)
			}
			return e.sealError(rc, start, streamErr)
		}
		if e.Metrics != nil {
			if httpResp.StatusCode < 400 {
				e.Metrics.IncrementSuccess()
			} else {
				e.Metrics.IncrementFailed()
			}
		}
		return e.sealSuccess(rc, start, bodyPath, contentLength, contentLengthCompressed)
	}
}

// attempt builds and sends exactly one hop, returning the raw *http.Response
// with its body still open for streamBody to consume.
func (e *Engine) attempt(ctx context.Context, s *httpsend.Sendable, rc *ResponseContext, blobs store.BlobStore) (*http.Response, error) {
	var bodyReader io.Reader
	var contentLength int64 = -1

	switch s.Body.Kind {
	case httpsend.BodyBytes:
		bodyReader = bytes.NewReader(s.Body.Bytes)
		contentLength = int64(len(s.Body.Bytes))
	case httpsend.BodyStream:
		bodyReader = s.Body.Stream
		contentLength = s.Body.ContentLength
	}

	if bodyReader != nil && blobs != nil {
		cw := newChunkWriter(ctx, blobs, rc.resp.ID+".request")
		tr := &teeReader{r: bodyReader, cw: cw}
		bodyReader = tr
		defer func() { _ = cw.Close() }()
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("transaction: build request: %w", err)
	}
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}
	s.Headers.ApplyToRequest(req)

	httpClient, err := e.Pool.ClientFor(s.URL, e.proxyURL(), s.Options.ValidateCertificates)
	if err != nil {
		return nil, fmt.Errorf("transaction: acquire client: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// streamBody decompresses and tees the final response body, returning the
// blob path, decompressed length, and compressed (wire) length.
func (e *Engine) streamBody(ctx context.Context, resp *http.Response, rc *ResponseContext, blobs store.BlobStore) (string, int64, int64, error) {
	defer resp.Body.Close()

	wire := &countingReader{r: resp.Body}
	decoded, err := decompressReader(resp.Header.Get("Content-Encoding"), wire)
	if err != nil {
		return "", 0, 0, &RequestError{Message: err.Error()}
	}
	defer decoded.Close()

	bodyID := rc.resp.ID
	cw := newChunkWriter(ctx, blobs, bodyID)

	var decodedBytes int64
	lastReport := time.Now()
	tr := &teeReader{
		r:  decoded,
		cw: cw,
		onChunk: func(n int) {
			decodedBytes += int64(n)
			rc.Emit(store.EventBodyChunk, func(ev *store.HttpResponseEvent) { ev.Bytes = int64(n) })
			if time.Since(lastReport) > 50*time.Millisecond {
				lastReport = time.Now()
				_ = rc.Update(ctx, func(r *store.HttpResponse) {
					r.ElapsedMs = time.Since(r.CreatedAt).Milliseconds()
					r.ContentLength = decodedBytes
				})
			}
		},
	}

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			if cerr := cw.Close(); cerr != nil && e.Logger != nil {
				e.Logger.Errorf("transaction: close chunk writer after cancel: %v", cerr)
			}
			return "", decodedBytes, wire.n, ctx.Err()
		default:
		}
		_, rerr := tr.Read(buf)
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			_ = cw.Close()
			return "", decodedBytes, wire.n, &RequestError{Message: rerr.Error()}
		}
	}

	if err := cw.Close(); err != nil {
		return "", decodedBytes, wire.n, &BodyError{Message: err.Error()}
	}
	if _, err := blobs.Seal(ctx, bodyID); err != nil {
		return "", decodedBytes, wire.n, fmt.Errorf("transaction: seal body blob: %w", err)
	}
	finalPath, err := blobs.Path(ctx, bodyID)
	if err != nil {
		return "", decodedBytes, wire.n, fmt.Errorf("transaction: resolve body blob path: %w", err)
	}
	return finalPath, decodedBytes, wire.n, nil
}

func canceledMidBody(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// The seal* helpers always persist through a detached context: by the time
// any of them runs, the caller's ctx may already be canceled or past its
// deadline, but the terminal response record must still land (spec.md §4.E's
// invariant that a Closed response is never observed without a final
// elapsed_ms and either error or body_path).

func (e *Engine) sealCanceled(rc *ResponseContext, start time.Time, headersSeen bool, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return e.sealError(rc, start, &RequestError{Message: "timeout"})
	}
	if !headersSeen {
		_ = rc.Update(context.Background(), func(r *store.HttpResponse) {
			r.State = store.ResponseClosed
			r.ElapsedMs = time.Since(start).Milliseconds()
			if r.ElapsedHeadersMs == 0 {
				r.ElapsedHeadersMs = r.ElapsedMs
			}
		})
		return &RequestCanceledError{}
	}
	return e.sealClean(rc, start, "", 0, 0)
}

// sealClean closes the response with no error set, per spec.md §5's rule
// that cancellation after headers truncates the body but closes cleanly.
func (e *Engine) sealClean(rc *ResponseContext, start time.Time, bodyPath string, contentLength, contentLengthCompressed int64) error {
	return rc.Update(context.Background(), func(r *store.HttpResponse) {
		r.State = store.ResponseClosed
		r.ElapsedMs = time.Since(start).Milliseconds()
		if r.ElapsedHeadersMs == 0 {
			r.ElapsedHeadersMs = r.ElapsedMs
		}
		r.BodyPath = bodyPath
		r.ContentLength = contentLength
		r.ContentLengthCompressed = contentLengthCompressed
	})
}

func (e *Engine) sealSuccess(rc *ResponseContext, start time.Time, bodyPath string, contentLength, contentLengthCompressed int64) error {
	return rc.Update(context.Background(), func(r *store.HttpResponse) {
		r.State = store.ResponseClosed
		r.ElapsedMs = time.Since(start).Milliseconds()
		r.BodyPath = bodyPath
		r.ContentLength = contentLength
		r.ContentLengthCompressed = contentLengthCompressed
	})
}

func (e *Engine) sealError(rc *ResponseContext, start time.Time, cause error) error {
	if e.Metrics != nil {
		e.Metrics.IncrementFailed()
	}
	updErr := rc.Update(context.Background(), func(r *store.HttpResponse) {
		r.State = store.ResponseClosed
		r.Error = cause.Error()
		r.ElapsedMs = time.Since(start).Milliseconds()
		if r.ElapsedHeadersMs == 0 {
			r.ElapsedHeadersMs = r.ElapsedMs
		}
	})
	if updErr != nil {
		return fmt.Errorf("transaction: persist Closed(error) state: %w (original: %s)", updErr, cause.Error())
	}
	return cause
}

func headerPairsFromHTTP(h http.Header) []store.NameValue {
	out := make([]store.NameValue, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, store.NameValue{Name: name, Value: v, Enabled: true})
		}
	}
	return out
}

func headerPairsFromOrdered(h *client.OrderedHeader) []store.NameValue {
	if h == nil {
		return nil
	}
	std := h.ToHTTPHeader()
	return headerPairsFromHTTP(std)
}

