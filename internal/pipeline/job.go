package pipeline

import (
	"context"
	"time"
)

// State is a job's position in the stage sequence. Transitions are strictly
// forward; a terminal state is never left.
type State int

const (
	StateQueued State = iota
	StateResolving
	StateFetching
	StateMerging
	StateOrganizing
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateQueued:     "queued",
	StateResolving:  "resolving",
	StateFetching:   "fetching",
	StateMerging:    "merging",
	StateOrganizing: "organizing",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ErrorKind classifies a failed job for reporting; the empty kind means the
// job has not failed.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindInvalidInput     ErrorKind = "invalid_input"
	KindResolutionFailed ErrorKind = "resolution_failed"
	KindNetworkError     ErrorKind = "network_error"
	KindIOError          ErrorKind = "io_error"
	KindToolMissing      ErrorKind = "tool_missing"
	KindEncodeError      ErrorKind = "encode_error"
	KindCanceled         ErrorKind = "canceled"
)

// Status is an immutable snapshot of one job, safe to hand to any
// presentation layer.
type Status struct {
	ID         string
	URL        string
	State      State
	Publisher  string
	Title      string
	Downloaded int64
	Total      int64
	FinalPath  string
	ErrKind    ErrorKind
	Err        string
	Submitted  time.Time
	Finished   time.Time
}

// job is the mutable record; all fields are guarded by the pipeline mutex.
type job struct {
	id         string
	url        string
	state      State
	publisher  string
	title      string
	downloaded int64
	total      int64
	finalPath  string
	errKind    ErrorKind
	err        error
	submitted  time.Time
	finished   time.Time
	canceled   bool
	cancel     context.CancelFunc
}

func (j *job) snapshot() Status {
	st := Status{
		ID:         j.id,
		URL:        j.url,
		State:      j.state,
		Publisher:  j.publisher,
		Title:      j.title,
		Downloaded: j.downloaded,
		Total:      j.total,
		FinalPath:  j.finalPath,
		ErrKind:    j.errKind,
		Submitted:  j.submitted,
		Finished:   j.finished,
	}
	if j.err != nil {
		st.Err = j.err.Error()
	}
	return st
}
