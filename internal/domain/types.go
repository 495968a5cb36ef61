package domain

import "time"

// JobStatus tracks each stage of a download-and-merge job.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusFetching    JobStatus = "fetching"
	JobStatusFetched     JobStatus = "fetched"
	JobStatusFetchFailed JobStatus = "fetch_failed"
	JobStatusMerging     JobStatus = "merging"
	JobStatusMerged      JobStatus = "merged"
	JobStatusMergeFailed JobStatus = "merge_failed"
	JobStatusCleaned     JobStatus = "cleaned"
)

// IsTerminal reports whether the status ends the fetch/merge phase.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFetchFailed, JobStatusMergeFailed, JobStatusMerged:
		return true
	default:
		return false
	}
}

// Job stores identity, lifecycle status and outcome of one download request.
type Job struct {
	ID         string    `json:"id"`
	BVID       string    `json:"bvid"`
	Title      string    `json:"title,omitempty"`
	Status     JobStatus `json:"status"`
	OutputPath string    `json:"outputPath,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Succeeded reports whether the job produced a merged output.
func (j Job) Succeeded() bool {
	return j.OutputPath != "" && j.Error == ""
}

// DownloadJob describes one remote stream to persist locally.
type DownloadJob struct {
	SourceURL         string
	DestinationPath   string
	ExpectedSizeBytes *int64
}

// Video is one search hit returned by the platform.
type Video struct {
	BVID        string `json:"bvid"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Duration    string `json:"duration"`
	Plays       int64  `json:"plays"`
	Description string `json:"description,omitempty"`
	Cover       string `json:"cover,omitempty"`
	URL         string `json:"url,omitempty"`
}

// StreamPair holds the resolved separate video and audio stream locations.
type StreamPair struct {
	BVID            string
	Title           string
	DurationSeconds int
	VideoURL        string
	AudioURL        string
	VideoSize       *int64
	AudioSize       *int64
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
}
