package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanq16/parcel/internal/checkpoint"
)

// fakeSource serves an in-memory resource. hook runs before every fetch and
// can fail it or replace the body.
type fakeSource struct {
	mu        sync.Mutex
	data      []byte
	validator string
	ranges    bool
	sizeKnown bool
	probeErr  error
	probes    int
	fetches   []ByteRange
	calls     map[int64]int
	hook      func(ctx context.Context, f *fakeSource, r ByteRange, call int) (io.ReadCloser, error)
}

func newFakeSource(data []byte) *fakeSource {
	return &fakeSource{data: data, validator: "v1", ranges: true, sizeKnown: true, calls: make(map[int64]int)}
}

func (f *fakeSource) Probe(ctx context.Context, locator string) (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	size := int64(len(f.data))
	if !f.sizeKnown {
		size = -1
	}
	return &Metadata{Size: size, SupportsRanges: f.ranges, Validator: f.validator}, nil
}

func (f *fakeSource) Fetch(ctx context.Context, locator string, r ByteRange, validator string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, r)
	f.calls[r.Start]++
	call := f.calls[r.Start]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		body, err := hook(ctx, f, r, call)
		if body != nil || err != nil {
			return body, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if validator != "" && validator != f.validator {
		return nil, ErrValidatorMismatch
	}
	if !r.Whole() && !f.ranges {
		return nil, ErrRangeUnsupported
	}
	return io.NopCloser(bytes.NewReader(f.slice(r))), nil
}

func (f *fakeSource) slice(r ByteRange) []byte {
	end := int64(len(f.data))
	if r.End >= 0 && r.End < end {
		end = r.End
	}
	if r.Start > end {
		return nil
	}
	return append([]byte(nil), f.data[r.Start:end]...)
}

func (f *fakeSource) callsAt(start int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[start]
}

func (f *fakeSource) fetchedRanges() []ByteRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ByteRange(nil), f.fetches...)
}

// ctxReader blocks until its context is cancelled.
type ctxReader struct {
	ctx context.Context
}

func (c ctxReader) Read(p []byte) (int, error) {
	<-c.ctx.Done()
	return 0, c.ctx.Err()
}

func (c ctxReader) Close() error { return nil }

// brokenReader delivers data and then fails with err.
type brokenReader struct {
	r   io.Reader
	err error
}

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func (b *brokenReader) Close() error { return nil }

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

func testOptions() Options {
	return Options{
		Concurrency:    4,
		MinSegmentSize: 100,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		MaxRestarts:        2,
		CheckpointInterval: 10 * time.Millisecond,
		ProgressInterval:   5 * time.Millisecond,
	}
}

func newTestStore(t *testing.T) *checkpoint.FileStore {
	t.Helper()
	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	return store
}

func destPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "out", "file.bin")
}

func requireFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	require.True(t, bytes.Equal(want, got), "file content differs")
}
