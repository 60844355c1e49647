package models

// OutcomeStatus is the coarse result of a debrid resolution attempt.
type OutcomeStatus string

const (
	OutcomeReady       OutcomeStatus = "ready"
	OutcomeDownloading OutcomeStatus = "downloading"
	OutcomeFailed      OutcomeStatus = "failed"
)

// AttemptState names the step a resolution attempt reached.
type AttemptState string

const (
	StateSubmitted     AttemptState = "SUBMITTED"
	StateFilesListed   AttemptState = "FILES_LISTED"
	StateFilesSelected AttemptState = "FILES_SELECTED"
	StateLinkReady     AttemptState = "LINK_READY"
	StateUnrestricted  AttemptState = "UNRESTRICTED"
	StateNotCached     AttemptState = "NOT_CACHED"
	StateRemoteError   AttemptState = "REMOTE_ERROR"
	StateTimeout       AttemptState = "TIMEOUT"
)

// Terminal reports whether no further transition can follow this state.
func (s AttemptState) Terminal() bool {
	switch s {
	case StateUnrestricted, StateNotCached, StateRemoteError, StateTimeout:
		return true
	}
	return false
}

// Outcome is what the debrid engine returns for a magnet. It never carries an error;
// failures are encoded in Status and Reason.
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	URL      string        `json:"url,omitempty"`
	Progress float64       `json:"progress,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	State    AttemptState  `json:"state,omitempty"`
}

func Ready(url string) Outcome {
	return Outcome{Status: OutcomeReady, URL: url, State: StateUnrestricted}
}

func Downloading(progress float64) Outcome {
	return Outcome{Status: OutcomeDownloading, Progress: progress, State: StateNotCached}
}

func Failed(reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason, State: StateRemoteError}
}

// WithState returns a copy of the outcome tagged with the final attempt state.
func (o Outcome) WithState(state AttemptState) Outcome {
	o.State = state
	return o
}

func (o Outcome) IsReady() bool {
	return o.Status == OutcomeReady && o.URL != ""
}
