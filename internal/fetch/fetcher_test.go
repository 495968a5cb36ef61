package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-search-bot/internal/domain"
)

type progressRecorder struct {
	mu     sync.Mutex
	events []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *progressRecorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.HasPercent() {
			out = append(out, e.Percent)
		}
	}
	return out
}

func testHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "test-agent")
	h.Set("Referer", "https://www.bilibili.com")
	return h
}

// TestFetchWritesBodyAndReportsPercent writes the body and each percent once.
func TestFetchWritesBodyAndReportsPercent(t *testing.T) {
	payload := bytes.Repeat([]byte("v"), 1_000_000)
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "BV1-video.m4s")
	rec := &progressRecorder{}
	f := New(Options{Client: srv.Client(), Headers: testHeaders()})

	n, err := f.Fetch(context.Background(), domain.DownloadJob{SourceURL: srv.URL, DestinationPath: dest}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "https://www.bilibili.com", gotReferer)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size())

	percents := rec.percents()
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		assert.Greater(t, percents[i], percents[i-1])
	}
	for _, p := range percents {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
	}
	for _, e := range rec.events {
		assert.Equal(t, dest, e.Path)
	}
}

// TestFetchUnknownLengthEmitsNoPercent falls back to byte-count events.
func TestFetchUnknownLengthEmitsNoPercent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("a"), 1000))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "audio.m4s")
	rec := &progressRecorder{}
	f := New(Options{Client: srv.Client(), ProgressStep: 2000})

	n, err := f.Fetch(context.Background(), domain.DownloadJob{SourceURL: srv.URL, DestinationPath: dest}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), n)
	assert.Empty(t, rec.percents())
	require.NotEmpty(t, rec.events)
	assert.Equal(t, int64(5000), rec.events[len(rec.events)-1].BytesReceived)
}

// TestFetchZeroContentLength handles an empty body without percents.
func TestFetchZeroContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "empty.m4s")
	rec := &progressRecorder{}
	f := New(Options{Client: srv.Client()})

	var n int64
	var err error
	assert.NotPanics(t, func() {
		n, err = f.Fetch(context.Background(), domain.DownloadJob{SourceURL: srv.URL, DestinationPath: dest}, rec.record)
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.percents())
}

// TestFetchUsesExpectedSizeWhenHeaderMissing uses the known size for percents.
func TestFetchUsesExpectedSizeWhenHeaderMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("b"), 100))
		w.(http.Flusher).Flush()
		_, _ = w.Write(bytes.Repeat([]byte("b"), 100))
	}))
	defer srv.Close()

	size := int64(200)
	rec := &progressRecorder{}
	f := New(Options{Client: srv.Client()})

	_, err := f.Fetch(context.Background(), domain.DownloadJob{
		SourceURL:         srv.URL,
		DestinationPath:   filepath.Join(t.TempDir(), "x.m4s"),
		ExpectedSizeBytes: &size,
	}, rec.record)
	require.NoError(t, err)

	percents := rec.percents()
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
}

// TestFetchNon2xxIsNetworkError maps bad status codes to network errors.
func TestFetchNon2xxIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(Options{Client: srv.Client()})
	_, err := f.Fetch(context.Background(), domain.DownloadJob{
		SourceURL:       srv.URL,
		DestinationPath: filepath.Join(t.TempDir(), "x.m4s"),
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}

// TestFetchMidStreamDisconnectLeavesPartialFile fails on a dropped connection.
func TestFetchMidStreamDisconnectLeavesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "200000")
		_, _ = w.Write(bytes.Repeat([]byte("c"), 50_000))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "audio.m4s")
	f := New(Options{Client: srv.Client()})

	_, err := f.Fetch(context.Background(), domain.DownloadJob{SourceURL: srv.URL, DestinationPath: dest}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	_, statErr := os.Stat(dest)
	assert.NoError(t, statErr)
}

// TestFetchDestinationFailureIsFilesystemError maps create failures to the filesystem kind.
func TestFetchDestinationFailureIsFilesystemError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	f := New(Options{Client: srv.Client()})
	_, err := f.Fetch(context.Background(), domain.DownloadJob{
		SourceURL:       srv.URL,
		DestinationPath: filepath.Join(blocker, "sub", "video.m4s"),
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFilesystem)
	assert.NotErrorIs(t, err, domain.ErrNetwork)
}

// TestFetchCancelledContext stops when the context is cancelled.
func TestFetchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Options{Client: srv.Client()})
	_, err := f.Fetch(ctx, domain.DownloadJob{
		SourceURL:       srv.URL,
		DestinationPath: filepath.Join(t.TempDir(), "x.m4s"),
	}, nil)

	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestFetchRequiresURLAndPath validates the job fields.
func TestFetchRequiresURLAndPath(t *testing.T) {
	f := New(Options{})

	_, err := f.Fetch(context.Background(), domain.DownloadJob{}, nil)

	assert.ErrorIs(t, err, domain.ErrValidation)
}
