package types

import (
	"time"
)

type StreamStatus string

const (
	StreamCompleted  StreamStatus = "COMPLETED"
	StreamFailed     StreamStatus = "FAILED"
	StreamNotStarted StreamStatus = "NOT_STARTED"
)

type SyncStatus string

const (
	SyncSucceeded SyncStatus = "SUCCEEDED"
	SyncPartial   SyncStatus = "PARTIAL"
	SyncFailed    SyncStatus = "FAILED"
)

// StreamOutcome is the result of one stream in a sync run
type StreamOutcome struct {
	Stream         string        `json:"stream"`
	Status         StreamStatus  `json:"status"`
	Shadow         bool          `json:"shadow,omitempty"`
	RecordsEmitted int64         `json:"records_emitted"`
	ScopesTotal    int           `json:"scopes_total"`
	ScopesFailed   int           `json:"scopes_failed"`
	ErrorKind      ErrorKindType `json:"error_kind,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       string        `json:"duration,omitempty"`
}

// PartiallyCompleted reports a failed stream that still committed some of its scopes
func (o *StreamOutcome) PartiallyCompleted() bool {
	return o.Status == StreamFailed && o.ScopesTotal > 0 && o.ScopesFailed < o.ScopesTotal
}

// SyncSummary is the machine readable report of a sync run
type SyncSummary struct {
	SyncID     string           `json:"sync_id"`
	Status     SyncStatus       `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Streams    []*StreamOutcome `json:"streams"`
	Error      string           `json:"error,omitempty"`
}

// Finalize derives the run status from the outcomes of the selected streams; shadow passes
// are not counted. A run is partial when some work was committed, either a completed stream or
// a failed one with committed scopes.
func (s *SyncSummary) Finalize(runErr error) {
	s.FinishedAt = time.Now().UTC()
	if runErr != nil {
		s.Error = runErr.Error()
	}

	completed, progressed, selected := 0, 0, 0
	for _, outcome := range s.Streams {
		if outcome.Shadow {
			continue
		}
		selected++
		switch {
		case outcome.Status == StreamCompleted:
			completed++
			progressed++
		case outcome.PartiallyCompleted():
			progressed++
		}
	}

	switch {
	case selected > 0 && completed == selected && runErr == nil:
		s.Status = SyncSucceeded
	case progressed == 0 && selected > 0:
		s.Status = SyncFailed
	case selected == 0 && runErr == nil:
		s.Status = SyncSucceeded
	case selected == 0:
		s.Status = SyncFailed
	default:
		s.Status = SyncPartial
	}
}

// ExitCode maps the run status to the process exit status
func (s *SyncSummary) ExitCode() int {
	switch s.Status {
	case SyncSucceeded:
		return 0
	case SyncPartial:
		return 2
	default:
		return 1
	}
}

func (s *SyncSummary) Outcome(stream string) *StreamOutcome {
	for _, outcome := range s.Streams {
		if outcome.Stream == stream {
			return outcome
		}
	}
	return nil
}
