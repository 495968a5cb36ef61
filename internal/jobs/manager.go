package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"video-search-bot/internal/domain"
)

// ErrTooManyJobs is returned when the active job limit is reached.
var ErrTooManyJobs = errors.New("too many active jobs")

// ErrJobExists is returned when registering a duplicate job id.
var ErrJobExists = errors.New("job already exists")

// ErrAlreadyDownloading is returned when a video already has a running job.
var ErrAlreadyDownloading = errors.New("video is already being downloaded")

// ErrJobRunning is returned when an operation needs a finished job.
var ErrJobRunning = errors.New("job is still running")

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

const defaultRetainedJobs = 100

// Manager tracks jobs and enforces their state machine.
type Manager struct {
	mu          sync.RWMutex
	jobs        map[string]*domain.Job
	order       []string
	maxActive   int
	maxRetained int
	now         func() time.Time
}

// NewManager creates a manager allowing maxActive unfinished jobs at once.
func NewManager(maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 1
	}
	return &Manager{
		jobs:        make(map[string]*domain.Job),
		maxActive:   maxActive,
		maxRetained: defaultRetainedJobs,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start registers a new job in pending state.
func (m *Manager) Start(jobID, bvid string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if jobID == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}
	if _, exists := m.jobs[jobID]; exists {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}
	if m.activeLocked() >= m.maxActive {
		return domain.Job{}, ErrTooManyJobs
	}

	now := m.now()
	job := &domain.Job{
		ID:        jobID,
		BVID:      bvid,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[jobID] = job
	m.order = append(m.order, jobID)
	m.pruneLocked()
	return *job, nil
}

// Transition validates and applies a state transition for one job.
func (m *Manager) Transition(jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if status == job.Status {
		return nil
	}
	if !isValidTransition(job.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	job.Status = status
	job.UpdatedAt = m.now()
	return nil
}

// Update applies fn to the stored job under lock. Status changes must use Transition.
func (m *Manager) Update(jobID string, fn func(job *domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	status := job.Status
	fn(job)
	job.Status = status
	job.UpdatedAt = m.now()
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return *job, nil
}

// List returns snapshots of all tracked jobs, oldest first.
func (m *Manager) List() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.jobs[id])
	}
	return out
}

// ActiveCount returns the number of jobs not yet cleaned.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// IsRunning reports whether the job is still being processed.
func (m *Manager) IsRunning(jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	return ok && isRunning(job.Status)
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, job := range m.jobs {
		if isRunning(job.Status) {
			n++
		}
	}
	return n
}

// pruneLocked drops the oldest cleaned jobs beyond maxRetained.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.maxRetained
	if excess <= 0 {
		return
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.jobs[id].Status == domain.JobStatusCleaned {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// isRunning checks if a status represents an unfinished job.
func isRunning(status domain.JobStatus) bool {
	return status != domain.JobStatusCleaned
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusFetching || to == domain.JobStatusFetchFailed
	case domain.JobStatusFetching:
		return to == domain.JobStatusFetched || to == domain.JobStatusFetchFailed
	case domain.JobStatusFetched:
		return to == domain.JobStatusMerging
	case domain.JobStatusMerging:
		return to == domain.JobStatusMerged || to == domain.JobStatusMergeFailed
	case domain.JobStatusFetchFailed, domain.JobStatusMergeFailed, domain.JobStatusMerged:
		return to == domain.JobStatusCleaned
	default:
		return false
	}
}
