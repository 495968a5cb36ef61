package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/config"
	"video-search-bot/internal/domain"
	"video-search-bot/internal/fetch"
	"video-search-bot/internal/history"
	"video-search-bot/internal/jobs"
	"video-search-bot/internal/pipeline"
)

const testBVID = "BV1aa411c7mD"

// fakePlatform returns canned search hits and stream pairs.
type fakePlatform struct {
	resolveErr error
}

// Search returns a single hit.
func (p *fakePlatform) Search(context.Context, string) ([]domain.Video, error) {
	return []domain.Video{{BVID: testBVID, Title: "clip"}}, nil
}

// ResolveStreams returns fixed stream urls or the configured error.
func (p *fakePlatform) ResolveStreams(_ context.Context, bvid string) (domain.StreamPair, error) {
	if p.resolveErr != nil {
		return domain.StreamPair{}, p.resolveErr
	}
	return domain.StreamPair{
		BVID:     bvid,
		Title:    "clip",
		VideoURL: "https://cdn.example/v.m4s",
		AudioURL: "https://cdn.example/a.m4s",
	}, nil
}

// fakePipeline allows injecting custom run behavior per test.
type fakePipeline struct {
	run func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Run delegates to injected function.
func (p *fakePipeline) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	if p.run == nil {
		return pipeline.Result{}, nil
	}
	return p.run(ctx, req)
}

// fakeHistory records saved rows in memory.
type fakeHistory struct {
	mu      sync.Mutex
	records []history.Record
}

// Save appends the record.
func (h *fakeHistory) Save(_ context.Context, rec history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

// Recent returns saved records.
func (h *fakeHistory) Recent(context.Context, int) ([]history.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.Record(nil), h.records...), nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// newTestApp wires an App around fakes.
func newTestApp(t *testing.T, platform *fakePlatform, run func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)) (*App, *fakeHistory) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Download.Dir = t.TempDir()
	store := &fakeHistory{}

	seq := 0
	app := &App{
		cfg:      cfg,
		platform: platform,
		pipeline: &fakePipeline{run: run},
		jobs:     jobs.NewManager(2),
		events:   jobs.NewEventBus(100),
		history:  store,
		newID: func() string {
			seq++
			return "job-" + string(rune('0'+seq))
		},
		cancels: make(map[string]context.CancelFunc),
	}
	return app, store
}

// succeedingRun walks every stage and writes the merged output.
func succeedingRun(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	paths := pipeline.PathsFor(req.WorkDir, req.Name)
	req.OnStage(domain.JobStatusFetching)
	req.OnProgress(pipeline.TrackVideo, fetch.Progress{BytesReceived: 50, TotalBytes: 100, Percent: 50})
	req.OnProgress(pipeline.TrackAudio, fetch.Progress{BytesReceived: 10, TotalBytes: 0, Percent: -1})
	req.OnStage(domain.JobStatusFetched)
	req.OnStage(domain.JobStatusMerging)
	req.OnLog(domain.CommandLog{Command: "ffmpeg", ExitCode: 0})
	if err := os.WriteFile(paths.Output, []byte("mp4"), 0o644); err != nil {
		return pipeline.Result{}, err
	}
	req.OnStage(domain.JobStatusMerged)
	req.OnStage(domain.JobStatusCleaned)
	return pipeline.Result{
		OutputPath: paths.Output,
		Outcome:    domain.JobStatusMerged,
		Cleanup: cleanup.Report{
			paths.Video: {Outcome: cleanup.OutcomeRemoved},
			paths.Audio: {Outcome: cleanup.OutcomeRemoved},
		},
	}, nil
}

// TestDownloadPublishesEventsAndRecordsHistory checks the synchronous happy path.
func TestDownloadPublishesEventsAndRecordsHistory(t *testing.T) {
	app, store := newTestApp(t, &fakePlatform{}, succeedingRun)

	job, err := app.Download(context.Background(), testBVID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if job.Status != domain.JobStatusCleaned {
		t.Fatalf("status = %s, want %s", job.Status, domain.JobStatusCleaned)
	}
	if job.Title != "clip" {
		t.Fatalf("title = %q, want clip", job.Title)
	}
	if filepath.Base(job.OutputPath) != testBVID+"-res.mp4" {
		t.Fatalf("output = %s, want %s-res.mp4", job.OutputPath, testBVID)
	}

	events := app.JobEvents(job.ID, 0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeProgress)
	assertEventTypeExists(t, events, jobs.EventTypeLog)
	assertEventTypeExists(t, events, jobs.EventTypeResult)
	assertEventTypeExists(t, events, jobs.EventTypeCleanup)

	last := events[len(events)-1]
	if last.Type != jobs.EventTypeStatus || last.Status != domain.JobStatusCleaned {
		t.Fatalf("last event = %s/%s, want status/cleaned", last.Type, last.Status)
	}

	var sawUnknownTotal bool
	for _, event := range events {
		if event.Type == jobs.EventTypeProgress && event.Track == "audio" {
			sawUnknownTotal = event.Percent == nil && event.BytesReceived == 10
		}
	}
	if !sawUnknownTotal {
		t.Fatal("expected byte-count progress event without percent for audio")
	}

	if store.count() != 1 {
		t.Fatalf("history rows = %d, want 1", store.count())
	}
	records, _ := app.History(context.Background(), 10)
	if records[0].Status != domain.JobStatusCleaned || records[0].Error != "" {
		t.Fatalf("history record = %+v, want clean success", records[0])
	}
}

// TestDownloadPipelineFailureIsRecorded checks error path emissions.
func TestDownloadPipelineFailureIsRecorded(t *testing.T) {
	app, store := newTestApp(t, &fakePlatform{}, func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		req.OnStage(domain.JobStatusFetching)
		req.OnStage(domain.JobStatusFetchFailed)
		req.OnStage(domain.JobStatusCleaned)
		return pipeline.Result{
				Outcome: domain.JobStatusFetchFailed,
				Cleanup: cleanup.Report{"/tmp/x-video.m4s": {Outcome: cleanup.OutcomeMissing}},
			}, &pipeline.PipelineError{
				Stage:   domain.JobStatusFetching,
				Message: "stream download failed",
				Err:     domain.ErrNetwork,
			}
	})

	job, err := app.Download(context.Background(), testBVID)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	if job.Status != domain.JobStatusCleaned || job.Error == "" || job.OutputPath != "" {
		t.Fatalf("job = %+v, want cleaned failure without output", job)
	}

	events := app.JobEvents(job.ID, 0)
	assertEventTypeExists(t, events, jobs.EventTypeError)
	assertEventTypeExists(t, events, jobs.EventTypeCleanup)
	assertStatusSequence(t, events, domain.JobStatusPending, domain.JobStatusFetching, domain.JobStatusFetchFailed, domain.JobStatusCleaned)

	if store.count() != 1 {
		t.Fatalf("history rows = %d, want 1", store.count())
	}
}

// TestDownloadResolveFailureSkipsPipeline ensures metadata errors never reach the pipeline.
func TestDownloadResolveFailureSkipsPipeline(t *testing.T) {
	called := false
	app, _ := newTestApp(t, &fakePlatform{resolveErr: errors.New("no dash")}, func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		called = true
		return pipeline.Result{}, nil
	})

	job, err := app.Download(context.Background(), testBVID)
	if err == nil {
		t.Fatal("expected resolve error")
	}
	if called {
		t.Fatal("pipeline must not run when streams cannot be resolved")
	}
	assertStatusSequence(t, app.JobEvents(job.ID, 0), domain.JobStatusPending, domain.JobStatusFetchFailed, domain.JobStatusCleaned)
}

// TestDownloadLogsRejectedTransition checks an out-of-order stage is logged and skipped.
func TestDownloadLogsRejectedTransition(t *testing.T) {
	app, _ := newTestApp(t, &fakePlatform{}, func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		req.OnStage(domain.JobStatusMerging)
		req.OnStage(domain.JobStatusFetching)
		req.OnStage(domain.JobStatusFetchFailed)
		return pipeline.Result{Cleanup: cleanup.Report{}}, errors.New("stream failed")
	})
	var buf bytes.Buffer
	app.log = zerolog.New(&buf)

	job, err := app.Download(context.Background(), testBVID)
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	if !strings.Contains(buf.String(), "job transition rejected") {
		t.Fatalf("log = %q, want rejected transition warning", buf.String())
	}
	assertStatusSequence(t, app.JobEvents(job.ID, 0), domain.JobStatusPending, domain.JobStatusFetching, domain.JobStatusFetchFailed, domain.JobStatusCleaned)
}

// TestDownloadRejectsInvalidBVID validates input before registering a job.
func TestDownloadRejectsInvalidBVID(t *testing.T) {
	app, _ := newTestApp(t, &fakePlatform{}, succeedingRun)

	if _, err := app.Download(context.Background(), "../etc"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if len(app.Jobs()) != 0 {
		t.Fatalf("jobs = %d, want 0", len(app.Jobs()))
	}
}

// TestStartDownloadRejectsDuplicateAndCancels checks async guard and cancellation.
func TestStartDownloadRejectsDuplicateAndCancels(t *testing.T) {
	app, store := newTestApp(t, &fakePlatform{}, func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		req.OnStage(domain.JobStatusFetching)
		<-ctx.Done()
		req.OnStage(domain.JobStatusFetchFailed)
		req.OnStage(domain.JobStatusCleaned)
		return pipeline.Result{Cleanup: cleanup.Report{}}, ctx.Err()
	})

	job, err := app.StartDownload(testBVID)
	if err != nil {
		t.Fatalf("start first job: %v", err)
	}
	if _, err := app.StartDownload(testBVID); !errors.Is(err, jobs.ErrAlreadyDownloading) {
		t.Fatalf("second start error = %v, want %v", err, jobs.ErrAlreadyDownloading)
	}

	waitForStatus(t, app, job.ID, domain.JobStatusFetching)
	if err := app.CancelDownload(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, app, job.ID, domain.JobStatusCleaned)

	if err := app.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("history rows = %d, want 1", store.count())
	}
	if err := app.CancelDownload(job.ID); err == nil {
		t.Fatal("expected error cancelling finished job")
	}
}

// TestStartDownloadEnforcesActiveLimit checks the concurrent job cap.
func TestStartDownloadEnforcesActiveLimit(t *testing.T) {
	release := make(chan struct{})
	app, _ := newTestApp(t, &fakePlatform{}, func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		<-release
		req.OnStage(domain.JobStatusFetchFailed)
		return pipeline.Result{}, errors.New("stopped")
	})
	defer func() {
		close(release)
		_ = app.Close()
	}()

	for _, bvid := range []string{"BV1aa411c7mD", "BV1bb411c7mD"} {
		if _, err := app.StartDownload(bvid); err != nil {
			t.Fatalf("start %s: %v", bvid, err)
		}
	}
	if _, err := app.StartDownload("BV1cc411c7mD"); !errors.Is(err, jobs.ErrTooManyJobs) {
		t.Fatalf("third start error = %v, want %v", err, jobs.ErrTooManyJobs)
	}
}

// TestRemoveOutputDeletesMergedFile checks the caller-owned output lifecycle.
func TestRemoveOutputDeletesMergedFile(t *testing.T) {
	app, _ := newTestApp(t, &fakePlatform{}, succeedingRun)

	job, err := app.Download(context.Background(), testBVID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}

	report, err := app.RemoveOutput(job.ID)
	if err != nil {
		t.Fatalf("remove output: %v", err)
	}
	if report[job.OutputPath].Outcome != cleanup.OutcomeRemoved {
		t.Fatalf("report = %+v, want removed", report)
	}
	if _, err := os.Stat(job.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("stat output err = %v, want not exist", err)
	}

	updated, _ := app.Job(job.ID)
	if updated.OutputPath != "" {
		t.Fatalf("output path = %q, want cleared", updated.OutputPath)
	}
	if _, err := app.RemoveOutput("missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("err = %v, want %v", err, jobs.ErrJobNotFound)
	}
}

// TestApplyConfigUpdatesBotOptions checks hot-reloadable settings.
func TestApplyConfigUpdatesBotOptions(t *testing.T) {
	app, _ := newTestApp(t, &fakePlatform{}, succeedingRun)

	next := config.DefaultConfig()
	next.Download.MaxDurationSeconds = 30
	next.Download.ReplyTimeout = 5 * time.Second
	next.Download.Dir = "/elsewhere"
	app.ApplyConfig(next)

	opts := app.BotOptions()
	if opts.MaxDuration != 30 || opts.ReplyTimeout != 5*time.Second {
		t.Fatalf("bot options = %+v, want reloaded values", opts)
	}
	if app.Config().Download.Dir == "/elsewhere" {
		t.Fatal("download dir must not change at runtime")
	}
}

// waitForStatus polls until job reaches desired status or times out.
func waitForStatus(t *testing.T, app *App, jobID string, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, err := app.Job(jobID); err == nil && job.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := app.Job(jobID)
	t.Fatalf("status = %s, want %s", job.Status, want)
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []jobs.Event, want jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}

// assertStatusSequence verifies status events appear in exactly this order.
func assertStatusSequence(t *testing.T, events []jobs.Event, want ...domain.JobStatus) {
	t.Helper()
	var got []domain.JobStatus
	for _, event := range events {
		if event.Type == jobs.EventTypeStatus {
			got = append(got, event.Status)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("status events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status events = %v, want %v", got, want)
		}
	}
}
