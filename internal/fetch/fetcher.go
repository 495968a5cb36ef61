package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video-search-bot/internal/domain"
	"video-search-bot/internal/logging"
)

const (
	defaultProgressStep = 1 << 20
	chunkSize           = 32 * 1024
)

// Options configures a Fetcher. Headers is the request header profile
// required by the upstream CDN (User-Agent, Referer, ...).
type Options struct {
	Client       *http.Client
	Headers      http.Header
	ProgressStep int64
	Timeout      time.Duration
}

// Fetcher streams remote files to disk while reporting progress.
type Fetcher struct {
	client   *http.Client
	headers  http.Header
	step     int64
	timeout  time.Duration
	mkdirAll func(path string, perm os.FileMode) error
	create   func(name string) (*os.File, error)
}

// New constructs a fetcher. A nil client uses a client without overall timeout
// so large streams are bounded only by the context and Options.Timeout.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	step := opts.ProgressStep
	if step <= 0 {
		step = defaultProgressStep
	}

	return &Fetcher{
		client:   client,
		headers:  opts.Headers.Clone(),
		step:     step,
		timeout:  opts.Timeout,
		mkdirAll: os.MkdirAll,
		create:   os.Create,
	}
}

// Fetch downloads job.SourceURL into job.DestinationPath and returns the byte count.
// A partially written file is left in place for the caller's cleanup.
func (f *Fetcher) Fetch(ctx context.Context, job domain.DownloadJob, onProgress func(Progress)) (int64, error) {
	if strings.TrimSpace(job.SourceURL) == "" || strings.TrimSpace(job.DestinationPath) == "" {
		return 0, &FetchError{
			URL:     job.SourceURL,
			Path:    job.DestinationPath,
			Kind:    domain.ErrValidation,
			Message: "source url and destination path are required",
		}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	log := logging.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, nil)
	if err != nil {
		return 0, f.networkError(job, 0, "build request", err)
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, f.networkError(job, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, f.networkError(job, resp.StatusCode, fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}

	total := resp.ContentLength
	if total <= 0 && job.ExpectedSizeBytes != nil {
		total = *job.ExpectedSizeBytes
	}

	if err := f.mkdirAll(filepath.Dir(job.DestinationPath), 0o755); err != nil {
		return 0, f.filesystemError(job, "create destination directory", err)
	}
	file, err := f.create(job.DestinationPath)
	if err != nil {
		return 0, f.filesystemError(job, "create destination file", err)
	}

	state := NewProgressState(total, f.step)
	log.Debug().
		Str("path", job.DestinationPath).
		Int64("total_bytes", state.TotalBytes).
		Msg("fetch started")

	copyErr := f.copyBody(file, resp.Body, job, state, onProgress)
	closeErr := file.Close()
	if copyErr != nil {
		return state.BytesReceived, copyErr
	}
	if closeErr != nil {
		return state.BytesReceived, f.filesystemError(job, "close destination file", closeErr)
	}

	if state.TotalBytes > 0 && state.BytesReceived != state.TotalBytes {
		return state.BytesReceived, f.networkError(job, resp.StatusCode,
			fmt.Sprintf("received %d bytes, expected %d", state.BytesReceived, state.TotalBytes), io.ErrUnexpectedEOF)
	}

	log.Debug().Str("path", job.DestinationPath).Int64("bytes", state.BytesReceived).Msg("fetch completed")
	return state.BytesReceived, nil
}

func (f *Fetcher) copyBody(
	dst io.Writer,
	src io.Reader,
	job domain.DownloadJob,
	state *ProgressState,
	onProgress func(Progress),
) error {
	buf := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return f.filesystemError(job, "write destination file", err)
			}
			if p, ok := state.Advance(int64(n)); ok {
				emitProgress(onProgress, job.DestinationPath, p)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return f.networkError(job, 0, "read response body", readErr)
		}
	}

	if p, ok := state.Finish(); ok {
		emitProgress(onProgress, job.DestinationPath, p)
	}
	return nil
}

func (f *Fetcher) networkError(job domain.DownloadJob, status int, message string, err error) *FetchError {
	return &FetchError{
		URL:        job.SourceURL,
		Path:       job.DestinationPath,
		StatusCode: status,
		Kind:       domain.ErrNetwork,
		Message:    message,
		Err:        err,
	}
}

func (f *Fetcher) filesystemError(job domain.DownloadJob, message string, err error) *FetchError {
	return &FetchError{
		URL:     job.SourceURL,
		Path:    job.DestinationPath,
		Kind:    domain.ErrFilesystem,
		Message: message,
		Err:     err,
	}
}

func emitProgress(cb func(Progress), path string, p Progress) {
	if cb == nil {
		return
	}
	p.Path = path
	cb(p)
}
