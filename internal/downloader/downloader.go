// Package downloader implements the Chunked Downloader of spec.md §4.3:
// probe a media URL for range support and size, partition it into
// fixed-size chunks, fetch them concurrently under the governor's
// per-file chunk limiter, and assemble the result via fsx's
// temp-file-then-rename discipline. Falls back to one streaming GET when
// the server doesn't honor byte ranges.
//
// AVMC never downloads large media itself — its provider layer fetches
// small HTML/JSON pages via a single client.Get. This package keeps that
// same "one HTTP client, classified errors, no cleverness beyond what
// the contract requires" posture, but adds the range-probing and
// chunk-fanout machinery a real video download needs, generalizing
// AVMC's flat worker pool into semaphore-gated concurrent chunk fetches.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bilisync/bilisync/internal/bilierr"
	"github.com/bilisync/bilisync/internal/fsx"
	"github.com/bilisync/bilisync/internal/riskcontrol"
)

// Request describes one file to materialize.
type Request struct {
	URL        string
	MirrorURLs []string

	// Headers is applied to every HTTP request this download issues
	// (probe, stream fallback, and every chunk GET) — spec.md §4.3 calls
	// out a Referer required by bilibili's CDN in particular, but any
	// per-request header a caller needs rides along the same map.
	Headers map[string]string

	DestDir  string
	DestName string

	ChunkSizeBytes  int64
	MaxChunkRetries int

	AttemptDeadline time.Duration

	// ChunkLimiter bounds chunks-in-flight for this one file (spec.md
	// §4.7's innermost tier); obtained from a governor.PageGate.
	ChunkLimiter *semaphore.Weighted
}

// Downloader performs one Request's worth of ranged HTTP fetches.
type Downloader struct {
	httpClient *http.Client
}

// New constructs a Downloader using httpClient for every outbound
// request. httpClient's Timeout should be zero; per-attempt deadlines
// come from Request.AttemptDeadline via context instead, so a slow
// chunk doesn't kill unrelated in-flight chunks sharing the client.
func New(httpClient *http.Client) *Downloader {
	return &Downloader{httpClient: httpClient}
}

// probeResult captures what a HEAD (or ranged-GET fallback) probe
// learned about the resource.
type probeResult struct {
	acceptRanges bool
	size         int64 // -1 if unknown
}

// Download fetches req's resource into DestDir/DestName. breaker is
// consulted before every attempt (spec.md §4.8 step 2); ctx cancellation
// (including breaker.Context() cancellation) aborts in-flight chunks.
func (d *Downloader) Download(ctx context.Context, breaker *riskcontrol.Breaker, req Request) error {
	if err := breaker.Guard(); err != nil {
		return err
	}

	urls := append([]string{req.URL}, req.MirrorURLs...)
	var progress *chunkProgress
	defer func() {
		if progress != nil {
			progress.abandon()
		}
	}()

	var lastErr error
	for _, u := range urls {
		if err := breaker.Guard(); err != nil {
			return err
		}
		next, err := d.downloadFromURL(ctx, breaker, u, req, progress)
		progress = next
		if err == nil {
			progress = nil
			return nil
		}
		var rc *bilierr.RiskControl
		if errors.As(err, &rc) {
			breaker.Trip()
			return err
		}
		lastErr = err
		// NetworkPermanent, IntegrityMismatch and RangeUnsupported are the
		// errors this loop treats as "try the next mirror"; anything else (e.g. a
		// filesystem failure) is not going to improve by rotating
		// mirrors.
		var np *bilierr.NetworkPermanent
		var im *bilierr.IntegrityMismatch
		var ru *bilierr.RangeUnsupported
		if !errors.As(err, &np) && !errors.As(err, &im) && !errors.As(err, &ru) {
			return err
		}
	}
	return lastErr
}

// downloadFromURL probes one candidate URL and dispatches to the
// chunked or streaming path. progress carries whatever chunk state a
// prior mirror already accumulated; it is threaded through so a fallover
// keeps whatever chunks already landed instead of starting the file
// over (spec.md §4.3 step 4).
func (d *Downloader) downloadFromURL(ctx context.Context, breaker *riskcontrol.Breaker, url string, req Request, progress *chunkProgress) (*chunkProgress, error) {
	probe, err := d.probe(ctx, url, req.AttemptDeadline, req.Headers)
	if err != nil {
		return progress, err
	}

	if !probe.acceptRanges || probe.size <= 0 {
		if progress != nil {
			progress.abandon()
		}
		return nil, d.downloadStream(ctx, url, req, probe.size)
	}
	return d.downloadChunked(ctx, breaker, url, req, probe.size, progress)
}

// applyHeaders sets every entry of headers on httpReq — most notably the
// Referer bilibili's CDN requires on every media fetch (spec.md §4.3);
// a nil map is a no-op so callers with no extra headers pay nothing.
func applyHeaders(httpReq *http.Request, headers map[string]string) {
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
}

func (d *Downloader) probe(ctx context.Context, url string, deadline time.Duration, headers map[string]string) (probeResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return probeResult{}, fmt.Errorf("downloader: build probe request: %w", err)
	}
	applyHeaders(httpReq, headers)
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return probeResult{}, &bilierr.NetworkTransient{Op: "probe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return probeResult{}, &bilierr.UpstreamNotFound{Resource: url}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rcErr := riskcontrol.ClassifyResponse("probe", resp, body); rcErr != nil {
			return probeResult{}, rcErr
		}
		return probeResult{}, &bilierr.NetworkPermanent{Op: "probe", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	size := int64(-1)
	if resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return probeResult{
		acceptRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		size:         size,
	}, nil
}

// downloadStream is the fallback path for servers that don't honor byte
// ranges (spec.md §4.3's degraded mode): one sequential GET, no
// parallelism, still written through fsx's atomic temp-then-rename.
func (d *Downloader) downloadStream(ctx context.Context, url string, req Request, expectedSize int64) error {
	reqCtx, cancel := context.WithTimeout(ctx, req.AttemptDeadline*10)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("downloader: build stream request: %w", err)
	}
	applyHeaders(httpReq, req.Headers)
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return &bilierr.NetworkTransient{Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rcErr := riskcontrol.ClassifyResponse("stream", resp, body); rcErr != nil {
			return rcErr
		}
		return &bilierr.NetworkPermanent{Op: "stream", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	f, tmpName, err := fsx.CreateTempForWrite(req.DestDir, req.DestName, 0)
	if err != nil {
		return &bilierr.FilesystemFailed{Path: req.DestDir, Err: err}
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		fsx.AbandonTemp(tmpName)
		return &bilierr.NetworkTransient{Op: "stream", Err: err}
	}
	if expectedSize > 0 && n != expectedSize {
		fsx.AbandonTemp(tmpName)
		return &bilierr.IntegrityMismatch{URL: url, Expected: expectedSize, Actual: n}
	}
	if err := fsx.FinalizeTemp(f, tmpName, req.DestDir, req.DestName); err != nil {
		return &bilierr.FilesystemFailed{Path: req.DestDir, Err: err}
	}
	return nil
}

// chunkProgress is the state a chunked download carries across a mirror
// fallover: the temp file already opened and which byte windows already
// landed successfully. A retry against the next mirror reuses both
// instead of truncating a fresh temp file and refetching everything.
type chunkProgress struct {
	f       *os.File
	tmpName string
	size    int64

	mu   sync.Mutex
	done map[int64]bool // completed window start offsets
}

func (p *chunkProgress) isDone(start int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[start]
}

func (p *chunkProgress) markDone(start int64) {
	p.mu.Lock()
	p.done[start] = true
	p.mu.Unlock()
}

func (p *chunkProgress) abandon() {
	fsx.AbandonTemp(p.tmpName)
}

// downloadChunked partitions [0, size) into ChunkSizeBytes windows and
// fetches each with a ranged GET, retried individually with exponential
// backoff, bounded by req.ChunkLimiter. Chunks complete in any order —
// each writes directly to its own byte offset in the pre-truncated temp
// file — so one slow chunk never head-of-line blocks the others.
//
// progress carries over whatever windows a previous mirror attempt
// already completed. If size disagrees with what progress recorded, the
// byte layout no longer lines up and the partial file is abandoned.
func (d *Downloader) downloadChunked(ctx context.Context, breaker *riskcontrol.Breaker, url string, req Request, size int64, progress *chunkProgress) (*chunkProgress, error) {
	if progress != nil && progress.size != size {
		progress.abandon()
		progress = nil
	}
	if progress == nil {
		f, tmpName, err := fsx.CreateTempForWrite(req.DestDir, req.DestName, size)
		if err != nil {
			return nil, &bilierr.FilesystemFailed{Path: req.DestDir, Err: err}
		}
		progress = &chunkProgress{f: f, tmpName: tmpName, size: size, done: make(map[int64]bool)}
	}

	type window struct{ start, end int64 } // end is exclusive
	var windows []window
	for start := int64(0); start < size; start += req.ChunkSizeBytes {
		end := start + req.ChunkSizeBytes
		if end > size {
			end = size
		}
		if progress.isDone(start) {
			continue
		}
		windows = append(windows, window{start, end})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, w := range windows {
		w := w
		if err := req.ChunkLimiter.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer req.ChunkLimiter.Release(1)
			if err := breaker.Guard(); err != nil {
				return err
			}
			if err := d.fetchChunk(groupCtx, url, progress.f, w.start, w.end, req); err != nil {
				return err
			}
			progress.markDone(w.start)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		var rc *bilierr.RiskControl
		if errors.As(err, &rc) {
			breaker.Trip()
		}
		return progress, err
	}

	if err := fsx.FinalizeTemp(progress.f, progress.tmpName, req.DestDir, req.DestName); err != nil {
		return nil, &bilierr.FilesystemFailed{Path: req.DestDir, Err: err}
	}
	return nil, nil
}

type writerAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

func (d *Downloader) fetchChunk(ctx context.Context, url string, f writerAt, start, end int64, req Request) error {
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, req.AttemptDeadline)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("downloader: build chunk request: %w", err))
		}
		applyHeaders(httpReq, req.Headers)
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

		resp, err := d.httpClient.Do(httpReq)
		if err != nil {
			return &bilierr.NetworkTransient{Op: "chunk", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return backoff.Permanent(&bilierr.RangeUnsupported{URL: url})
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if rcErr := riskcontrol.ClassifyResponse("chunk", resp, body); rcErr != nil {
				return backoff.Permanent(rcErr)
			}
			return &bilierr.NetworkTransient{Op: "chunk", Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusPartialContent {
			return backoff.Permanent(&bilierr.RangeUnsupported{URL: url})
		}

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return &bilierr.NetworkTransient{Op: "chunk", Err: err}
		}
		if int64(len(buf)) != end-start {
			return &bilierr.IntegrityMismatch{URL: url, Expected: end - start, Actual: int64(len(buf))}
		}
		if _, err := f.WriteAt(buf, start); err != nil {
			return backoff.Permanent(&bilierr.FilesystemFailed{Path: url, Err: err})
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(req.MaxChunkRetries))
	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return errors.Unwrap(permanent)
		}
		return &bilierr.NetworkPermanent{Op: "chunk", Err: err}
	}
	return nil
}
