// Package checkpoint persists the plan and per-segment progress of a
// transfer so it can be resumed after the process dies. A Store is the only
// code that touches the backing medium; callers exchange Records with it.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is bumped whenever the persisted layout changes incompatibly.
const Version = 1

var (
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorrupt marks a record that cannot be trusted. Callers treat it the
	// same as ErrNotFound and restart from scratch.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

type SegmentRecord struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Written int64  `json:"written"`
	State   string `json:"state"`
}

type Record struct {
	Version         int             `json:"version"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Destination     string          `json:"destination"`
	Artifact        string          `json:"artifact"`
	TotalSize       int64           `json:"total_size"`
	Validator       string          `json:"validator,omitempty"`
	ContentType     string          `json:"content_type,omitempty"`
	RangesSupported bool            `json:"ranges_supported"`
	Mode            string          `json:"mode"`
	Note            string          `json:"note,omitempty"`
	Concurrency     int             `json:"concurrency"`
	MinSegmentSize  int64           `json:"min_segment_size"`
	Segments        []SegmentRecord `json:"segments"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Store persists records keyed by transfer ID. Implementations serialize
// their own writes; each Save is atomic with respect to crashes.
type Store interface {
	Load(id string) (*Record, error)
	Save(rec *Record) error
	Delete(id string) error
	List() ([]*Record, error)
	Close() error
}

// Written sums the per-segment progress of the record.
func (r *Record) Written() int64 {
	var n int64
	for _, s := range r.Segments {
		n += s.Written
	}
	return n
}

// Expired reports whether the record is older than ttl. A zero ttl never
// expires.
func (r *Record) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(r.UpdatedAt) > ttl
}

// Validate checks the structural invariants a resumed transfer relies on:
// sorted, contiguous segments covering [0, TotalSize) with progress inside
// each segment.
func (r *Record) Validate() error {
	if r.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, r.Version)
	}
	if r.ID == "" || r.Source == "" || r.Destination == "" {
		return fmt.Errorf("%w: missing identity fields", ErrCorrupt)
	}
	if len(r.Segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrCorrupt)
	}
	if r.TotalSize < 0 {
		if len(r.Segments) != 1 || r.Segments[0].Start != 0 || r.Segments[0].End != -1 {
			return fmt.Errorf("%w: unknown size requires one unbounded segment", ErrCorrupt)
		}
		if r.Segments[0].Written < 0 {
			return fmt.Errorf("%w: negative progress", ErrCorrupt)
		}
		return nil
	}
	var next int64
	for i, s := range r.Segments {
		if s.Start != next {
			return fmt.Errorf("%w: segment %d starts at %d, expected %d", ErrCorrupt, i, s.Start, next)
		}
		if s.End < s.Start {
			return fmt.Errorf("%w: segment %d has negative length", ErrCorrupt, i)
		}
		if s.Written < 0 || s.Written > s.End-s.Start {
			return fmt.Errorf("%w: segment %d progress %d out of range", ErrCorrupt, i, s.Written)
		}
		switch s.State {
		case "pending", "active", "failed":
		case "done":
			if s.Written != s.End-s.Start {
				return fmt.Errorf("%w: segment %d done with %d of %d bytes", ErrCorrupt, i, s.Written, s.End-s.Start)
			}
		default:
			return fmt.Errorf("%w: segment %d has state %q", ErrCorrupt, i, s.State)
		}
		next = s.End
	}
	if next != r.TotalSize {
		return fmt.Errorf("%w: segments cover %d of %d bytes", ErrCorrupt, next, r.TotalSize)
	}
	return nil
}

func encode(rec *Record) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}

func decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
