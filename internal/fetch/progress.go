package fetch

// Progress is one progress notification for a single stream.
// Percent is -1 for byte-count events emitted when the total size is unknown.
type Progress struct {
	Path          string `json:"path"`
	BytesReceived int64  `json:"bytesReceived"`
	TotalBytes    int64  `json:"totalBytes"`
	Percent       int    `json:"percent"`
}

// HasPercent reports whether the event carries a percentage.
func (p Progress) HasPercent() bool {
	return p.Percent >= 0
}

// ProgressState tracks bytes received for one fetch.
// LastReportedPercent starts at -1 and only moves forward.
type ProgressState struct {
	BytesReceived       int64
	TotalBytes          int64
	LastReportedPercent int

	step              int64
	lastReportedBytes int64
}

// NewProgressState creates a state for a stream of totalBytes (<= 0 when unknown).
// step is the byte interval between events when the total is unknown.
func NewProgressState(totalBytes, step int64) *ProgressState {
	if totalBytes < 0 {
		totalBytes = 0
	}
	if step <= 0 {
		step = defaultProgressStep
	}
	return &ProgressState{
		TotalBytes:          totalBytes,
		LastReportedPercent: -1,
		step:                step,
	}
}

// Advance records n more bytes and reports whether an event should be emitted.
func (s *ProgressState) Advance(n int64) (Progress, bool) {
	s.BytesReceived += n

	if s.TotalBytes <= 0 {
		if s.BytesReceived-s.lastReportedBytes < s.step {
			return Progress{}, false
		}
		s.lastReportedBytes = s.BytesReceived
		return s.snapshot(-1), true
	}

	percent := int(s.BytesReceived * 100 / s.TotalBytes)
	if percent > 100 {
		percent = 100
	}
	if percent <= s.LastReportedPercent {
		return Progress{}, false
	}
	s.LastReportedPercent = percent
	return s.snapshot(percent), true
}

// Finish returns the trailing byte-count event for unknown-size streams.
func (s *ProgressState) Finish() (Progress, bool) {
	if s.TotalBytes > 0 || s.BytesReceived == s.lastReportedBytes {
		return Progress{}, false
	}
	s.lastReportedBytes = s.BytesReceived
	return s.snapshot(-1), true
}

func (s *ProgressState) snapshot(percent int) Progress {
	return Progress{
		BytesReceived: s.BytesReceived,
		TotalBytes:    s.TotalBytes,
		Percent:       percent,
	}
}
