package engine

import (
	"time"
)

type EventKind int

const (
	// EventProgress is periodic; BytesWritten is cumulative.
	EventProgress EventKind = iota
	// EventSegment reports a segment state change.
	EventSegment
	// EventTransfer reports a transfer state change.
	EventTransfer
	// EventFallback reports a demotion to single-stream mode.
	EventFallback
	// EventRestart reports that all progress was discarded.
	EventRestart
	// EventRetry reports a transient failure that will be retried.
	EventRetry
)

// Event is delivered to Options.OnEvent. SegmentID is -1 for transfer-level
// events.
type Event struct {
	TransferID   string
	SegmentID    int
	Kind         EventKind
	State        string
	BytesWritten int64
	Total        int64
	Message      string
}

type Status int

const (
	StatusCompleted Status = iota
	StatusRetriesExhausted
	StatusFatal
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusRetriesExhausted:
		return "retries-exhausted"
	case StatusFatal:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ExitCode is the process exit code a CLI should use for the status.
func (s Status) ExitCode() int {
	switch s {
	case StatusCompleted:
		return 0
	case StatusFatal:
		return 1
	case StatusRetriesExhausted:
		return 2
	case StatusCancelled:
		return 130
	}
	return 1
}

// Outcome is the single terminal report of a run.
type Outcome struct {
	TransferID  string
	Destination string
	Status      Status
	Err         error
	// Resumable is false once the checkpoint is gone or the resource changed
	// under the download.
	Resumable bool
	Size      int64
	Failures  []SegmentFailure
	Note      string
	Elapsed   time.Duration
}

func (e *Engine) emit(ev Event) {
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
}

func (e *Engine) emitSegment(t *Transfer, s *Segment, msg string) {
	e.emit(Event{
		TransferID:   t.ID,
		SegmentID:    s.ID,
		Kind:         EventSegment,
		State:        s.State().String(),
		BytesWritten: s.Written(),
		Total:        s.Size(),
		Message:      msg,
	})
}

func (e *Engine) emitTransfer(t *Transfer, kind EventKind, msg string) {
	e.emit(Event{
		TransferID:   t.ID,
		SegmentID:    -1,
		Kind:         kind,
		State:        t.State.String(),
		BytesWritten: t.Written(),
		Total:        t.TotalSize,
		Message:      msg,
	})
}
