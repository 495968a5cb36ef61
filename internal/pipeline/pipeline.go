package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/domain"
	"video-search-bot/internal/fetch"
	"video-search-bot/internal/logging"
	"video-search-bot/internal/mux"
)

// Track identifies which of the two streams a progress event belongs to.
type Track string

const (
	TrackVideo Track = "video"
	TrackAudio Track = "audio"
)

// Fetcher downloads one remote stream to disk.
type Fetcher interface {
	Fetch(ctx context.Context, job domain.DownloadJob, onProgress func(fetch.Progress)) (int64, error)
}

// Merger combines the downloaded video and audio files.
type Merger interface {
	Merge(ctx context.Context, req mux.MergeRequest) (domain.CommandLog, error)
}

// Remover deletes temporary files and reports what happened.
type Remover interface {
	Remove(paths ...string) cleanup.Report
}

// Request describes one download-and-merge job.
// OnProgress is called from both fetch goroutines and must be safe for concurrent use.
type Request struct {
	Name       string
	WorkDir    string
	Streams    domain.StreamPair
	LogOutput  bool
	OnStage    func(status domain.JobStatus)
	OnProgress func(track Track, progress fetch.Progress)
	OnLog      func(log domain.CommandLog)
}

// Result carries the merged output and the cleanup report.
// Cleanup is populated on every outcome, including failures.
type Result struct {
	OutputPath string
	Outcome    domain.JobStatus
	VideoBytes int64
	AudioBytes int64
	Logs       []domain.CommandLog
	Cleanup    cleanup.Report
}

// Paths are the intermediate and output file locations of one job.
type Paths struct {
	Video  string
	Audio  string
	Output string
}

// PathsFor derives the job file names from a work dir and a name stem.
func PathsFor(workDir, name string) Paths {
	return Paths{
		Video:  filepath.Join(workDir, name+"-video.m4s"),
		Audio:  filepath.Join(workDir, name+"-audio.m4s"),
		Output: filepath.Join(workDir, name+"-res.mp4"),
	}
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      domain.JobStatus  `json:"stage"`
	Message    string            `json:"message"`
	CommandLog domain.CommandLog `json:"commandLog"`
	Err        error             `json:"-"`
}

// Error formats pipeline failures for logs and chat replies.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Pipeline fetches both streams concurrently, merges them and cleans up.
type Pipeline struct {
	fetcher  Fetcher
	merger   Merger
	remover  Remover
	stat     func(name string) (os.FileInfo, error)
	mkdirAll func(path string, perm os.FileMode) error
}

// New constructs the production pipeline.
func New(fetcher Fetcher, merger Merger) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		merger:   merger,
		remover:  cleanup.NewRemover(),
		stat:     os.Stat,
		mkdirAll: os.MkdirAll,
	}
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	fetcher Fetcher,
	merger Merger,
	remover Remover,
	stat func(name string) (os.FileInfo, error),
) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		merger:   merger,
		remover:  remover,
		stat:     stat,
		mkdirAll: os.MkdirAll,
	}
}

// Run executes PENDING -> FETCHING -> FETCHED -> MERGING -> MERGED and always
// finishes with cleanup of the intermediates (CLEANED). On MERGED the caller
// owns the output file.
func (p *Pipeline) Run(ctx context.Context, req Request) (result Result, err error) {
	log := logging.FromContext(ctx)
	var cleanupPaths []string

	defer func() {
		result.Cleanup = p.remover.Remove(cleanupPaths...)
		result.Cleanup.Log(log)
		emitStage(req.OnStage, domain.JobStatusCleaned)
	}()

	fail := func(terminal domain.JobStatus, perr *PipelineError) (Result, error) {
		result.Outcome = terminal
		emitStage(req.OnStage, terminal)
		log.Error().Err(perr).Str("stage", string(perr.Stage)).Msg("job failed")
		return result, perr
	}

	if msg := validateRequest(req); msg != "" {
		return fail(domain.JobStatusFetchFailed, &PipelineError{
			Stage:   domain.JobStatusPending,
			Message: msg,
			Err:     domain.ErrValidation,
		})
	}

	if err := p.mkdirAll(req.WorkDir, 0o755); err != nil {
		return fail(domain.JobStatusFetchFailed, &PipelineError{
			Stage:   domain.JobStatusPending,
			Message: fmt.Sprintf("cannot create download directory: %s", req.WorkDir),
			Err:     fmt.Errorf("%w: %w", domain.ErrFilesystem, err),
		})
	}

	paths := PathsFor(req.WorkDir, req.Name)
	cleanupPaths = []string{paths.Video, paths.Audio}

	emitStage(req.OnStage, domain.JobStatusFetching)
	result.VideoBytes, result.AudioBytes, err = p.fetchBoth(ctx, req, paths)
	if err != nil {
		return fail(domain.JobStatusFetchFailed, &PipelineError{
			Stage:   domain.JobStatusFetching,
			Message: "stream download failed",
			Err:     err,
		})
	}

	for _, path := range []string{paths.Video, paths.Audio} {
		if err := p.requireNonEmpty(path); err != nil {
			return fail(domain.JobStatusFetchFailed, &PipelineError{
				Stage:   domain.JobStatusFetching,
				Message: fmt.Sprintf("downloaded file is missing or empty: %s", path),
				Err:     err,
			})
		}
	}
	emitStage(req.OnStage, domain.JobStatusFetched)

	emitStage(req.OnStage, domain.JobStatusMerging)
	cleanupPaths = append(cleanupPaths, paths.Output)
	cmdLog, err := p.merger.Merge(ctx, mux.MergeRequest{
		VideoPath:  paths.Video,
		AudioPath:  paths.Audio,
		OutputPath: paths.Output,
		LogOutput:  req.LogOutput,
	})
	if cmdLog.Command != "" {
		result.Logs = append(result.Logs, cmdLog)
		emitLog(req.OnLog, cmdLog)
	}
	if err != nil {
		return fail(domain.JobStatusMergeFailed, &PipelineError{
			Stage:      domain.JobStatusMerging,
			Message:    "merge failed",
			CommandLog: cmdLog,
			Err:        err,
		})
	}

	cleanupPaths = cleanupPaths[:2]
	result.OutputPath = paths.Output
	result.Outcome = domain.JobStatusMerged
	emitStage(req.OnStage, domain.JobStatusMerged)
	log.Info().Str("output", paths.Output).Msg("job merged")
	return result, nil
}

// fetchBoth downloads video and audio concurrently. The first failure cancels
// the sibling fetch.
func (p *Pipeline) fetchBoth(ctx context.Context, req Request, paths Paths) (int64, int64, error) {
	var videoBytes, audioBytes int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := p.fetcher.Fetch(gctx, domain.DownloadJob{
			SourceURL:         req.Streams.VideoURL,
			DestinationPath:   paths.Video,
			ExpectedSizeBytes: req.Streams.VideoSize,
		}, progressFor(req.OnProgress, TrackVideo))
		videoBytes = n
		if err != nil {
			return fmt.Errorf("video stream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n, err := p.fetcher.Fetch(gctx, domain.DownloadJob{
			SourceURL:         req.Streams.AudioURL,
			DestinationPath:   paths.Audio,
			ExpectedSizeBytes: req.Streams.AudioSize,
		}, progressFor(req.OnProgress, TrackAudio))
		audioBytes = n
		if err != nil {
			return fmt.Errorf("audio stream: %w", err)
		}
		return nil
	})

	err := g.Wait()
	return videoBytes, audioBytes, err
}

func (p *Pipeline) requireNonEmpty(path string) error {
	info, err := p.stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: empty file %s", domain.ErrValidation, path)
	}
	return nil
}

func validateRequest(req Request) string {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return "job name is required"
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return fmt.Sprintf("invalid job name: %q", req.Name)
	case strings.TrimSpace(req.WorkDir) == "":
		return "download directory is required"
	case strings.TrimSpace(req.Streams.VideoURL) == "":
		return "video stream url is required"
	case strings.TrimSpace(req.Streams.AudioURL) == "":
		return "audio stream url is required"
	}
	return ""
}

func progressFor(cb func(Track, fetch.Progress), track Track) func(fetch.Progress) {
	if cb == nil {
		return nil
	}
	return func(p fetch.Progress) {
		cb(track, p)
	}
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(domain.JobStatus), status domain.JobStatus) {
	if cb != nil {
		cb(status)
	}
}

// emitLog forwards command logs when callback is configured.
func emitLog(cb func(domain.CommandLog), log domain.CommandLog) {
	if cb != nil {
		cb(log)
	}
}
