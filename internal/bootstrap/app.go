package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-search-bot/internal/bilibili"
	"video-search-bot/internal/bot"
	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/config"
	"video-search-bot/internal/diagnostics"
	"video-search-bot/internal/domain"
	"video-search-bot/internal/fetch"
	"video-search-bot/internal/history"
	"video-search-bot/internal/jobs"
	"video-search-bot/internal/logging"
	"video-search-bot/internal/mux"
	"video-search-bot/internal/pipeline"
)

// App wires configuration, the platform client, jobs, pipeline and history.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	platform platformClient
	profile  bilibili.Profile
	pipeline pipelineRunner
	jobs     *jobs.Manager
	events   *jobs.EventBus
	history  historyStore
	db       *sql.DB
	checker  *diagnostics.Checker
	newID    func() string

	mu          sync.Mutex
	diagnostics domain.DiagnosticReport
	cancels     map[string]context.CancelFunc
	wg          sync.WaitGroup
}

// platformClient isolates the video site API behind an interface.
type platformClient interface {
	Search(ctx context.Context, keyword string) ([]domain.Video, error)
	ResolveStreams(ctx context.Context, bvid string) (domain.StreamPair, error)
}

// pipelineRunner isolates the download-and-merge pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// historyStore persists finished jobs.
type historyStore interface {
	Save(ctx context.Context, rec history.Record) error
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// New builds the application from a loaded configuration.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	ctx = logging.WithContext(ctx, log)

	profile := bilibili.NewProfile(cfg.Platform)
	apiClient := &http.Client{Timeout: cfg.Platform.RequestTimeout}
	platform := bilibili.NewClient(apiClient, profile, cfg.Platform.SearchCount)

	fetcher := fetch.New(fetch.Options{
		Headers:      profile.StreamHeaders(),
		ProgressStep: cfg.Download.ProgressStepBytes,
		Timeout:      cfg.Download.FetchTimeout,
	})
	muxer := mux.New(mux.Options{
		Tool:    cfg.Muxer.Tool,
		Verbose: cfg.Muxer.Verbose,
		Runner:  mux.NewRunner(mux.Strategy(cfg.Muxer.Strategy)),
		Timeout: cfg.Muxer.MergeTimeout,
	})

	var (
		db    *sql.DB
		store historyStore
	)
	if cfg.Database.Path != "" {
		var err error
		db, err = history.NewConnection(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		store = history.NewRepository(db)
	}

	app := &App{
		cfg:      cfg,
		log:      log,
		platform: platform,
		profile:  profile,
		pipeline: pipeline.New(fetcher, muxer),
		jobs:     jobs.NewManager(cfg.Download.MaxConcurrentJobs),
		events:   jobs.NewEventBus(1000),
		history:  store,
		db:       db,
		checker:  diagnostics.NewChecker(),
		newID:    uuid.NewString,
		cancels:  make(map[string]context.CancelFunc),
	}
	app.RefreshDiagnostics()
	return app, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ApplyConfig swaps in settings that are safe to change at runtime:
// delivery thresholds, reply timeout and log level.
func (a *App) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.mu.Lock()
	next := *a.cfg
	next.Download.MaxDurationSeconds = cfg.Download.MaxDurationSeconds
	next.Download.UploadThresholdMB = cfg.Download.UploadThresholdMB
	next.Download.ReplyTimeout = cfg.Download.ReplyTimeout
	next.Logging.Level = cfg.Logging.Level
	a.cfg = &next
	a.log = a.log.Level(logging.ParseLevel(cfg.Logging.Level))
	log := a.log
	a.mu.Unlock()

	log.Info().Msg("configuration reloaded")
}

// BotOptions derives the chat handler settings from the configuration.
func (a *App) BotOptions() bot.Options {
	cfg := a.Config()
	return bot.Options{
		ReplyTimeout:      cfg.Download.ReplyTimeout,
		MaxDuration:       cfg.Download.MaxDurationSeconds,
		UploadThresholdMB: cfg.Download.UploadThresholdMB,
		PageURL:           a.PageURL,
	}
}

// PageURL returns the public page of a video.
func (a *App) PageURL(bvid string) string {
	return a.profile.VideoPageURL(bvid)
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log
}

// Search queries the platform for videos matching keyword.
func (a *App) Search(ctx context.Context, keyword string) ([]domain.Video, error) {
	ctx = a.withLogger(ctx, "search")
	videos, err := a.platform.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return videos, nil
}

// Download runs one job to completion and returns its final state.
// On success the caller owns job.OutputPath.
func (a *App) Download(ctx context.Context, bvid string) (domain.Job, error) {
	job, err := a.registerJob(bvid)
	if err != nil {
		return domain.Job{}, err
	}

	runErr := a.runDownloadJob(ctx, job.ID, bvid)
	final, err := a.jobs.Get(job.ID)
	if err != nil {
		return domain.Job{}, err
	}
	return final, runErr
}

// StartDownload creates a job and runs it asynchronously.
func (a *App) StartDownload(bvid string) (domain.Job, error) {
	job, err := a.registerJob(bvid)
	if err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancels[job.ID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.clearActiveJob(job.ID)
		_ = a.runDownloadJob(ctx, job.ID, bvid)
	}()
	return job, nil
}

// CancelDownload aborts a running asynchronous job. Cleanup still runs.
func (a *App) CancelDownload(jobID string) error {
	a.mu.Lock()
	cancel, ok := a.cancels[jobID]
	a.mu.Unlock()
	if !ok {
		if _, err := a.jobs.Get(jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not running", jobID)
	}
	cancel()
	return nil
}

// Job returns one job by id.
func (a *App) Job(jobID string) (domain.Job, error) {
	return a.jobs.Get(jobID)
}

// Jobs lists tracked jobs, oldest first.
func (a *App) Jobs() []domain.Job {
	return a.jobs.List()
}

// JobEvents returns events of one job with sequence greater than sinceSeq.
func (a *App) JobEvents(jobID string, sinceSeq int64) []jobs.Event {
	return a.events.ForJob(jobID, sinceSeq)
}

// RemoveOutput deletes the merged file of a finished job.
func (a *App) RemoveOutput(jobID string) (cleanup.Report, error) {
	job, err := a.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if a.jobs.IsRunning(jobID) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobRunning, jobID)
	}
	if job.OutputPath == "" {
		return cleanup.Report{}, nil
	}

	report := cleanup.RemoveFiles(job.OutputPath)
	log := a.Logger()
	report.Log(&log)
	if failed := report.Failed(); len(failed) > 0 {
		return report, fmt.Errorf("%w: remove %s: %s", domain.ErrFilesystem, failed[0], report[failed[0]].Reason)
	}

	_ = a.jobs.Update(jobID, func(j *domain.Job) { j.OutputPath = "" })
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeCleanup,
		Message: "Output removed",
		Cleanup: report,
	})
	return report, nil
}

// History returns recently finished jobs.
func (a *App) History(ctx context.Context, limit int) ([]history.Record, error) {
	if a.history == nil {
		return nil, fmt.Errorf("history is not configured")
	}
	return a.history.Recent(ctx, limit)
}

// Diagnostics returns the latest cached diagnostics report.
func (a *App) Diagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns environment checks against the active config.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	cfg := a.Config()
	report := a.checker.Run(diagnostics.Target{
		MuxerTool:    cfg.Muxer.Tool,
		DownloadDir:  cfg.Download.Dir,
		DatabasePath: cfg.Database.Path,
	})

	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report
}

// Close cancels running jobs, waits for their cleanup and closes history.
func (a *App) Close() error {
	a.mu.Lock()
	for _, cancel := range a.cancels {
		cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()

	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// registerJob creates a pending job unless the video is already in flight.
func (a *App) registerJob(bvid string) (domain.Job, error) {
	bvid = strings.TrimSpace(bvid)
	if !bilibili.ValidBVID(bvid) {
		return domain.Job{}, fmt.Errorf("%w: invalid bvid %q", domain.ErrValidation, bvid)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, job := range a.jobs.List() {
		if job.BVID == bvid && a.jobs.IsRunning(job.ID) {
			return domain.Job{}, fmt.Errorf("%w: %s", jobs.ErrAlreadyDownloading, bvid)
		}
	}

	job, err := a.jobs.Start(a.newID(), bvid)
	if err != nil {
		return domain.Job{}, err
	}
	a.publishStatus(job.ID, domain.JobStatusPending, "Job queued")
	return job, nil
}

// runDownloadJob resolves streams, executes the pipeline and maps outcomes
// to job transitions and events. CLEANED is applied here, after the job
// outcome is recorded.
func (a *App) runDownloadJob(ctx context.Context, jobID, bvid string) error {
	ctx = logging.WithJobID(a.withLogger(ctx, "download"), jobID)
	log := logging.FromContext(ctx)
	cfg := a.Config()
	started := time.Now().UTC()

	var (
		result pipeline.Result
		runErr error
	)

	streams, err := a.platform.ResolveStreams(ctx, bvid)
	if err != nil {
		runErr = fmt.Errorf("resolve streams: %w", err)
		a.transition(jobID, domain.JobStatusFetchFailed, "Stream resolution failed")
	} else {
		_ = a.jobs.Update(jobID, func(j *domain.Job) { j.Title = streams.Title })
		log.Info().Str("bvid", bvid).Str("title", streams.Title).Msg("starting download")

		result, runErr = a.pipeline.Run(ctx, pipeline.Request{
			Name:      bvid,
			WorkDir:   cfg.Download.Dir,
			Streams:   streams,
			LogOutput: cfg.Muxer.Verbose,
			OnStage: func(status domain.JobStatus) {
				if status == domain.JobStatusCleaned {
					return
				}
				a.transition(jobID, status, stageMessage(status))
			},
			OnProgress: func(track pipeline.Track, p fetch.Progress) {
				a.publishProgress(jobID, track, p)
			},
			OnLog: func(cmdLog domain.CommandLog) {
				a.publishCommandLog(jobID, "Command completed", cmdLog)
			},
		})
	}

	if runErr != nil {
		_ = a.jobs.Update(jobID, func(j *domain.Job) { j.Error = runErr.Error() })
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Message: runErr.Error(),
		})
	} else {
		_ = a.jobs.Update(jobID, func(j *domain.Job) { j.OutputPath = result.OutputPath })
		a.publishEvent(jobs.Event{
			JobID:      jobID,
			Type:       jobs.EventTypeResult,
			Status:     domain.JobStatusMerged,
			Message:    "Video merged",
			OutputPath: result.OutputPath,
		})
	}

	if result.Cleanup != nil {
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeCleanup,
			Message: "Temporary files removed",
			Cleanup: result.Cleanup,
		})
	}
	a.transition(jobID, domain.JobStatusCleaned, "Job finished")
	a.recordHistory(ctx, jobID, started, result.Cleanup)
	return runErr
}

func (a *App) recordHistory(ctx context.Context, jobID string, started time.Time, report cleanup.Report) {
	if a.history == nil {
		return
	}
	job, err := a.jobs.Get(jobID)
	if err != nil {
		return
	}

	rec := history.Record{
		JobID:      job.ID,
		BVID:       job.BVID,
		Title:      job.Title,
		Status:     job.Status,
		OutputPath: job.OutputPath,
		Error:      job.Error,
		Cleanup:    report,
		CreatedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	// The job context may already be cancelled; history is still written.
	if err := a.history.Save(context.WithoutCancel(ctx), rec); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("failed to record job history")
	}
}

func (a *App) transition(jobID string, status domain.JobStatus, message string) {
	if err := a.jobs.Transition(jobID, status); err != nil {
		log := a.Logger()
		log.Warn().Err(err).Str("job_id", jobID).Msg("job transition rejected")
		return
	}
	a.publishStatus(jobID, status, message)
}

func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

func (a *App) publishProgress(jobID string, track pipeline.Track, p fetch.Progress) {
	event := jobs.Event{
		JobID:         jobID,
		Type:          jobs.EventTypeProgress,
		Track:         string(track),
		BytesReceived: p.BytesReceived,
		TotalBytes:    p.TotalBytes,
	}
	if p.HasPercent() {
		percent := p.Percent
		event.Percent = &percent
	}
	a.publishEvent(event)
}

func (a *App) publishCommandLog(jobID, message string, cmdLog domain.CommandLog) {
	a.publishEvent(jobs.Event{
		JobID:    jobID,
		Type:     jobs.EventTypeLog,
		Message:  message,
		Command:  cmdLog.Command,
		Args:     cmdLog.Args,
		ExitCode: cmdLog.ExitCode,
		Stdout:   cmdLog.Stdout,
		Stderr:   cmdLog.Stderr,
	})
}

func (a *App) publishEvent(event jobs.Event) {
	a.events.Publish(event)
}

func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.cancels[jobID]; ok {
		cancel()
		delete(a.cancels, jobID)
	}
}

// withLogger attaches the app logger unless ctx already carries one.
func (a *App) withLogger(ctx context.Context, component string) context.Context {
	if logging.FromContext(ctx).GetLevel() == zerolog.Disabled {
		ctx = logging.WithContext(ctx, a.Logger())
	}
	return logging.WithComponent(ctx, component)
}

func stageMessage(status domain.JobStatus) string {
	switch status {
	case domain.JobStatusFetching:
		return "Downloading video and audio"
	case domain.JobStatusFetched:
		return "Streams downloaded"
	case domain.JobStatusFetchFailed:
		return "Download failed"
	case domain.JobStatusMerging:
		return "Merging streams"
	case domain.JobStatusMerged:
		return "Merge completed"
	case domain.JobStatusMergeFailed:
		return "Merge failed"
	default:
		return string(status)
	}
}
