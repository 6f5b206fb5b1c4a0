package meeting

// Status is the persisted processing state of a meeting record. It is the
// single source of truth for the pipeline: workers re-read it before acting
// and advance it with conditional updates, never from in-memory state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusCompressing  Status = "compressing"
	StatusTranscribing Status = "transcribing"
	StatusCorrecting   Status = "correcting"
	StatusSummarizing  Status = "summarizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// statusDisplay maps each status to its human-readable label for the
// status polling endpoint.
var statusDisplay = map[Status]string{
	StatusPending:      "Waiting",
	StatusCompressing:  "Compressing audio",
	StatusTranscribing: "Transcribing",
	StatusCorrecting:   "Correcting transcript",
	StatusSummarizing:  "Summarizing",
	StatusCompleted:    "Completed",
	StatusFailed:       "Failed",
}

// Display returns the human-readable label for s.
func (s Status) Display() string {
	if d, ok := statusDisplay[s]; ok {
		return d
	}
	return string(s)
}

// Terminal reports whether a pipeline run for this status has ended.
// Pending counts as terminal: a record created without audio sits in
// pending with no run in flight.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// nextStatus is the forward transition graph of the pipeline. Failed is
// reachable from every non-terminal state and is not listed here.
var nextStatus = map[Status]Status{
	StatusPending:      StatusCompressing,
	StatusCompressing:  StatusTranscribing,
	StatusTranscribing: StatusCorrecting,
	StatusCorrecting:   StatusSummarizing,
	StatusSummarizing:  StatusCompleted,
}

// CanAdvanceTo reports whether the state machine allows moving from s to
// next. Any state that is not already completed or failed may move to failed.
func (s Status) CanAdvanceTo(next Status) bool {
	if next == StatusFailed {
		return s != StatusCompleted && s != StatusFailed
	}
	return nextStatus[s] == next
}
