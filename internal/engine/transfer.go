package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

type TransferState int

const (
	StatePlanning TransferState = iota
	StateActive
	StatePaused
	StateCompleted
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type SegmentState int

const (
	SegmentPending SegmentState = iota
	SegmentActive
	SegmentDone
	SegmentFailed
)

func (s SegmentState) String() string {
	switch s {
	case SegmentPending:
		return "pending"
	case SegmentActive:
		return "active"
	case SegmentDone:
		return "done"
	case SegmentFailed:
		return "failed"
	}
	return "unknown"
}

// ParseSegmentState is the inverse of SegmentState.String.
func ParseSegmentState(s string) (SegmentState, error) {
	switch s {
	case "pending":
		return SegmentPending, nil
	case "active":
		return SegmentActive, nil
	case "done":
		return SegmentDone, nil
	case "failed":
		return SegmentFailed, nil
	}
	return SegmentPending, fmt.Errorf("unknown segment state %q", s)
}

// Mode selects how a transfer is fetched. Both modes run through the same
// worker pool; single-stream is one segment with concurrency 1.
type Mode int

const (
	ModeSegmented Mode = iota
	ModeSingleStream
)

func (m Mode) String() string {
	if m == ModeSingleStream {
		return "single-stream"
	}
	return "segmented"
}

func ParseMode(s string) Mode {
	if s == "single-stream" {
		return ModeSingleStream
	}
	return ModeSegmented
}

// Segment is a half-open byte range [Start, End) of the resource. End is -1
// when the resource length is unknown.
//
// Progress and state are atomics: the owning worker writes them, the
// checkpoint journal and the reporter read them.
type Segment struct {
	ID       int
	Start    int64
	End      int64
	Attempts int
	LastErr  error

	state   atomic.Int32
	written atomic.Int64
}

func NewSegment(id int, start, end int64) *Segment {
	return &Segment{ID: id, Start: start, End: end}
}

// Size returns the declared size of the segment, or -1 when unbounded.
func (s *Segment) Size() int64 {
	if s.End < 0 {
		return -1
	}
	return s.End - s.Start
}

func (s *Segment) State() SegmentState {
	return SegmentState(s.state.Load())
}

func (s *Segment) SetState(st SegmentState) {
	s.state.Store(int32(st))
}

func (s *Segment) Bounded() bool {
	return s.End >= 0
}

// Written is safe to call from the reporting path while a worker owns the
// segment.
func (s *Segment) Written() int64 {
	return s.written.Load()
}

func (s *Segment) SetWritten(n int64) {
	s.written.Store(n)
}

func (s *Segment) addWritten(n int64) int64 {
	return s.written.Add(n)
}

// Remaining is the byte range still to be fetched for this segment.
func (s *Segment) Remaining() ByteRange {
	return ByteRange{Start: s.Start + s.Written(), End: s.End}
}

// Transfer identifies one download and is owned by the engine run driving it.
type Transfer struct {
	ID              string
	Source          string
	Destination     string
	Artifact        string
	TotalSize       int64
	Validator       string
	ContentType     string
	Concurrency     int
	MinSegmentSize  int64
	Mode            Mode
	RangesSupported bool
	Note            string
	State           TransferState
	Segments        []*Segment
}

// TransferID derives a stable identifier from the locator and destination so
// that a restarted process finds the checkpoint of the same download.
func TransferID(source, destination string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\x00"+destination)).String()
}

func NewTransfer(source, destination string, concurrency int, minSegment int64) *Transfer {
	return &Transfer{
		ID:             TransferID(source, destination),
		Source:         source,
		Destination:    destination,
		Artifact:       ArtifactPath(destination),
		TotalSize:      -1,
		Concurrency:    concurrency,
		MinSegmentSize: minSegment,
		State:          StatePlanning,
	}
}

// Written sums the progress counters of all segments.
func (t *Transfer) Written() int64 {
	var total int64
	for _, s := range t.Segments {
		total += s.Written()
	}
	return total
}

func (t *Transfer) pending() []*Segment {
	var out []*Segment
	for _, s := range t.Segments {
		if s.State() != SegmentDone {
			out = append(out, s)
		}
	}
	return out
}

// reset drops all progress and returns the transfer to planning.
func (t *Transfer) reset() {
	t.Segments = nil
	t.TotalSize = -1
	t.Validator = ""
	t.Mode = ModeSegmented
	t.Note = ""
	t.State = StatePlanning
}
