package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bilisync/bilisync/internal/riskcontrol"
)

func newBreaker() *riskcontrol.Breaker {
	return riskcontrol.New(context.Background(), time.Minute)
}

func TestDownloadChunkedReassemblesInOrder(t *testing.T) {
	content := strings.Repeat("0123456789", 50) // 500 bytes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			return
		}
		rangeHeader := r.Header.Get("Range")
		var start, end int
		_, err := fmtSscanRange(rangeHeader, &start, &end)
		if err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= len(content) {
			end = len(content) - 1
		}
		w.Header().Set("Content-Range", "bytes "+rangeHeader)
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(content[start : end+1]))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dl := New(srv.Client())
	req := Request{
		URL:             srv.URL,
		DestDir:         dir,
		DestName:        "video.m4s",
		ChunkSizeBytes:  64,
		MaxChunkRetries: 2,
		AttemptDeadline: 5 * time.Second,
		ChunkLimiter:    semaphore.NewWeighted(4),
	}

	if err := dl.Download(context.Background(), newBreaker(), req); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "video.m4s"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestDownloadMirrorFalloverKeepsCompletedChunks(t *testing.T) {
	content := strings.Repeat("0123456789", 50) // 500 bytes, 8 chunks of 64
	var primaryChunkAttempts int32

	rangeHandler := func(fail bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Accept-Ranges", "bytes")
			if r.Method == http.MethodHead {
				w.Header().Set("Content-Length", strconv.Itoa(len(content)))
				return
			}
			rangeHeader := r.Header.Get("Range")
			var start, end int
			if _, err := fmtSscanRange(rangeHeader, &start, &end); err != nil {
				http.Error(w, "bad range", http.StatusBadRequest)
				return
			}
			// Only the first window ever succeeds on the primary
			// mirror; every other chunk fails so Download falls over
			// to the mirror.
			if fail && start != 0 {
				atomic.AddInt32(&primaryChunkAttempts, 1)
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			if end >= len(content) {
				end = len(content) - 1
			}
			w.Header().Set("Content-Range", "bytes "+rangeHeader)
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(content[start : end+1]))
		}
	}

	primary := httptest.NewServer(rangeHandler(true))
	defer primary.Close()
	var mirrorChunkAttempts int32
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			atomic.AddInt32(&mirrorChunkAttempts, 1)
		}
		rangeHandler(false)(w, r)
	}))
	defer mirror.Close()

	dir := t.TempDir()
	dl := New(primary.Client())
	req := Request{
		URL:             primary.URL,
		MirrorURLs:      []string{mirror.URL},
		DestDir:         dir,
		DestName:        "video.m4s",
		ChunkSizeBytes:  64,
		MaxChunkRetries: 0,
		AttemptDeadline: 5 * time.Second,
		// Weight 1 forces chunks to be attempted strictly in window
		// order, which is what makes the "exactly 7 chunks on the
		// mirror" assertion below deterministic: window 0 is fully
		// written and released before window 64 is even attempted.
		ChunkLimiter: semaphore.NewWeighted(1),
	}

	if err := dl.Download(context.Background(), newBreaker(), req); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "video.m4s"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got), len(content))
	}

	// The mirror only ever has to serve the 7 windows that failed on the
	// primary; the window that already succeeded there must not be
	// refetched.
	if got := atomic.LoadInt32(&mirrorChunkAttempts); got != 7 {
		t.Fatalf("expected mirror to serve exactly 7 chunks, got %d", got)
	}
}

func TestDownloadStreamFallbackWhenRangesUnsupported(t *testing.T) {
	content := "no ranges here, just a plain stream"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dl := New(srv.Client())
	req := Request{
		URL:             srv.URL,
		DestDir:         dir,
		DestName:        "thumb.jpg",
		ChunkSizeBytes:  64,
		MaxChunkRetries: 2,
		AttemptDeadline: 5 * time.Second,
		ChunkLimiter:    semaphore.NewWeighted(4),
	}
	if err := dl.Download(context.Background(), newBreaker(), req); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "thumb.jpg"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content mismatch")
	}
}

func TestDownloadTripsBreakerOnRiskControlSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "100")
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><title>安全验证</title><body>访问验证</body></html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dl := New(srv.Client())
	breaker := newBreaker()
	req := Request{
		URL:             srv.URL,
		DestDir:         dir,
		DestName:        "media.m4s",
		ChunkSizeBytes:  64,
		MaxChunkRetries: 0,
		AttemptDeadline: 2 * time.Second,
		ChunkLimiter:    semaphore.NewWeighted(4),
	}
	if err := dl.Download(context.Background(), breaker, req); err == nil {
		t.Fatalf("expected risk control error")
	}
	if !breaker.Tripped() {
		t.Fatalf("expected breaker to trip on risk control sentinel")
	}
}

func TestDownloadSendsRefererOnEveryRequest(t *testing.T) {
	content := "small file"
	var sawReferer int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://www.bilibili.com/" {
			t.Errorf("missing referer on %s request", r.Method)
			return
		}
		sawReferer++
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dl := New(srv.Client())
	req := Request{
		URL:             srv.URL,
		Headers:         map[string]string{"Referer": "https://www.bilibili.com/"},
		DestDir:         dir,
		DestName:        "small.bin",
		ChunkSizeBytes:  64,
		MaxChunkRetries: 1,
		AttemptDeadline: 5 * time.Second,
		ChunkLimiter:    semaphore.NewWeighted(4),
	}
	if err := dl.Download(context.Background(), newBreaker(), req); err != nil {
		t.Fatalf("download: %v", err)
	}
	if sawReferer < 2 {
		t.Fatalf("expected at least a HEAD and a GET carrying the referer, got %d", sawReferer)
	}
}

// fmtSscanRange parses a "bytes=start-end" Range header without pulling
// in the heavier net/textproto range parser, since the test server only
// ever needs to answer this one deterministic shape.
func fmtSscanRange(header string, start, end *int) (int, error) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	var err error
	*start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	*end, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return 2, nil
}
