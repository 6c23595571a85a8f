package parcelhttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/parcel/internal/engine"
	"github.com/tanq16/parcel/internal/utils"
)

var modTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// contentServer serves data with range support through http.ServeContent and
// records the request headers it saw.
type contentServer struct {
	mu       sync.Mutex
	data     []byte
	etag     string
	requests []*http.Request
}

func (c *contentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests = append(c.requests, r.Clone(context.Background()))
	data, etag := c.data, c.etag
	c.mu.Unlock()
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="archive.tar.gz"`)
	http.ServeContent(w, r, "", modTime, bytes.NewReader(data))
}

func (c *contentServer) lastRequest() *http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func newContentServer(t *testing.T, data []byte, etag string) (*contentServer, *httptest.Server) {
	cs := &contentServer{data: data, etag: etag}
	srv := httptest.NewServer(cs)
	t.Cleanup(srv.Close)
	return cs, srv
}

func readAll(t *testing.T, body io.ReadCloser) []byte {
	t.Helper()
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return data
}

func TestProbe(t *testing.T) {
	_, srv := newContentServer(t, payload(1000), `"v1"`)
	src := NewWithClient(srv.Client())

	meta, err := src.Probe(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), meta.Size)
	assert.True(t, meta.SupportsRanges)
	assert.Equal(t, `etag:"v1"`, meta.Validator)
	assert.Equal(t, "archive.tar.gz", meta.FileName)
	assert.Equal(t, "application/octet-stream", meta.ContentType)
}

func TestProbeFallsBackToLastModified(t *testing.T) {
	_, srv := newContentServer(t, payload(10), `W/"weak"`)
	src := NewWithClient(srv.Client())

	meta, err := src.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "date:"+modTime.Format(http.TimeFormat), meta.Validator)
}

func TestProbeWithGetWhenHeadRefused(t *testing.T) {
	cs := &contentServer{data: payload(1000), etag: `"v1"`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cs.ServeHTTP(w, r)
	}))
	defer srv.Close()
	src := NewWithClient(srv.Client())

	meta, err := src.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), meta.Size)
	assert.True(t, meta.SupportsRanges)
	assert.Equal(t, `etag:"v1"`, meta.Validator)
	assert.Equal(t, "bytes=0-0", cs.lastRequest().Header.Get("Range"))
}

func TestProbeStatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, engine.ErrResourceNotFound},
		{http.StatusGone, engine.ErrResourceNotFound},
		{http.StatusForbidden, engine.ErrFatal},
		{http.StatusServiceUnavailable, engine.ErrTransient},
		{http.StatusTooManyRequests, engine.ErrTransient},
		{http.StatusTeapot, engine.ErrFatal},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		_, err := NewWithClient(srv.Client()).Probe(context.Background(), srv.URL)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.code)
		srv.Close()
	}
}

func TestProbeRejectsOtherSchemes(t *testing.T) {
	_, err := NewWithClient(http.DefaultClient).Probe(context.Background(), "ftp://example.com/file")
	assert.ErrorIs(t, err, engine.ErrFatal)
}

func TestFetchRange(t *testing.T) {
	data := payload(1000)
	cs, srv := newContentServer(t, data, `"v1"`)
	src := NewWithClient(srv.Client())

	body, err := src.Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 100, End: 200}, `etag:"v1"`)
	require.NoError(t, err)
	assert.Equal(t, data[100:200], readAll(t, body))

	req := cs.lastRequest()
	assert.Equal(t, "bytes=100-199", req.Header.Get("Range"))
	assert.Equal(t, `"v1"`, req.Header.Get("If-Match"))
}

func TestFetchOpenEndedRange(t *testing.T) {
	data := payload(1000)
	_, srv := newContentServer(t, data, `"v1"`)

	body, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 900, End: -1}, "")
	require.NoError(t, err)
	assert.Equal(t, data[900:], readAll(t, body))
}

func TestFetchWholeSendsNoRange(t *testing.T) {
	data := payload(300)
	cs, srv := newContentServer(t, data, "")

	body, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 0, End: -1}, "")
	require.NoError(t, err)
	assert.Equal(t, data, readAll(t, body))
	assert.Empty(t, cs.lastRequest().Header.Get("Range"))
}

func TestFetchSendsIfUnmodifiedSince(t *testing.T) {
	cs, srv := newContentServer(t, payload(100), "")
	validator := "date:" + modTime.Format(http.TimeFormat)

	body, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 0, End: 50}, validator)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, modTime.Format(http.TimeFormat), cs.lastRequest().Header.Get("If-Unmodified-Since"))
}

func TestFetchDetectsChangedResource(t *testing.T) {
	_, srv := newContentServer(t, payload(1000), `"v2"`)

	_, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 0, End: 100}, `etag:"v1"`)
	assert.ErrorIs(t, err, engine.ErrValidatorMismatch)
}

func TestFetchDetectsChangedETagWhenIfMatchIgnored(t *testing.T) {
	data := payload(100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Content-Range", "bytes 0-49/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[:50])
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 0, End: 50}, `etag:"v1"`)
	assert.ErrorIs(t, err, engine.ErrValidatorMismatch)
}

func TestFetchRangeIgnored(t *testing.T) {
	data := payload(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 100, End: 200}, "")
	assert.ErrorIs(t, err, engine.ErrRangeUnsupported)
}

func TestFetchRangeNotSatisfiable(t *testing.T) {
	_, srv := newContentServer(t, payload(1000), `"v1"`)

	_, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 5000, End: 5100}, "")
	assert.ErrorIs(t, err, engine.ErrRangeNotSatisfiable)
}

func TestFetchWrongContentRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(100))
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.Client()).Fetch(context.Background(), srv.URL, engine.ByteRange{Start: 100, End: 200}, "")
	assert.ErrorIs(t, err, engine.ErrProtocolViolation)
}

func TestFetchCancelled(t *testing.T) {
	_, srv := newContentServer(t, payload(10), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWithClient(srv.Client()).Fetch(ctx, srv.URL, engine.ByteRange{Start: 0, End: 5}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseContentRange(t *testing.T) {
	start, end, total, err := ParseContentRange("bytes 100-199/1000")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 199, 1000}, []int64{start, end, total})

	_, _, total, err = ParseContentRange("bytes 0-0/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)

	for _, bad := range []string{"", "bytes 1-2", "bytes x-2/3", "bytes 1-y/3", "bytes 1-2/z", "bytes 1/3"} {
		_, _, _, err := ParseContentRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestEngineDownloadsOverHTTP(t *testing.T) {
	data := payload(1 << 20)
	_, srv := newContentServer(t, data, `"v1"`)
	dest := filepath.Join(t.TempDir(), "archive.bin")
	opts := engine.DefaultOptions()
	opts.Concurrency = 4
	opts.MinSegmentSize = 64 * 1024

	out := engine.New(NewWithClient(srv.Client()), nil, opts).Run(context.Background(), srv.URL+"/archive.bin", dest)

	require.Equal(t, engine.StatusCompleted, out.Status, "err: %v", out.Err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

// slowReader hands out at most 100 bytes per read, pausing before each.
type slowReader struct {
	r     *bytes.Reader
	pause time.Duration
}

func (s *slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.pause)
	return s.r.Read(p[:min(len(p), 100)])
}

func (s *slowReader) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

type flushWriter struct {
	http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.ResponseWriter.Write(p)
	f.ResponseWriter.(http.Flusher).Flush()
	return n, err
}

func TestEngineSlowTransferOutlastsTimeout(t *testing.T) {
	data := payload(2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(flushWriter{w}, r, "", modTime, &slowReader{r: bytes.NewReader(data), pause: 50 * time.Millisecond})
	}))
	t.Cleanup(srv.Close)
	dest := filepath.Join(t.TempDir(), "slow.bin")
	opts := engine.DefaultOptions()
	opts.Concurrency = 1
	opts.Retry.MaxAttempts = 2

	src := New(utils.HTTPClientConfig{Timeout: 300 * time.Millisecond})
	out := engine.New(src, nil, opts).Run(context.Background(), srv.URL+"/slow.bin", dest)

	require.Equal(t, engine.StatusCompleted, out.Status, "err: %v", out.Err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
