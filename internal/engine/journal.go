package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tanq16/parcel/internal/checkpoint"
)

// journal is the single writer for a transfer's checkpoint. Workers and the
// periodic flusher submit concurrently; the mutex queues them.
//
// A flush reads the progress counters first, then fsyncs the artifact, then
// saves. Every byte counted in the snapshot was handed to WriteAt before the
// snapshot, so it is covered by the fsync and a record can never claim more
// than what is on disk.
type journal struct {
	mu      sync.Mutex
	store   checkpoint.Store
	t       *Transfer
	art     *artifact
	deleted bool
}

func newJournal(store checkpoint.Store, t *Transfer, art *artifact) *journal {
	return &journal{store: store, t: t, art: art}
}

func (j *journal) flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.store == nil || j.deleted {
		return nil
	}
	rec := recordFromTransfer(j.t)
	if j.art != nil {
		if err := j.art.Sync(); err != nil {
			return err
		}
	}
	if err := j.store.Save(rec); err != nil {
		return fmt.Errorf("error saving checkpoint: %w", err)
	}
	return nil
}

// delete removes the checkpoint and turns later flushes into no-ops.
func (j *journal) delete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deleted = true
	if j.store == nil {
		return nil
	}
	return j.store.Delete(j.t.ID)
}

func recordFromTransfer(t *Transfer) *checkpoint.Record {
	rec := &checkpoint.Record{
		ID:              t.ID,
		Source:          t.Source,
		Destination:     t.Destination,
		Artifact:        t.Artifact,
		TotalSize:       t.TotalSize,
		Validator:       t.Validator,
		ContentType:     t.ContentType,
		RangesSupported: t.RangesSupported,
		Mode:            t.Mode.String(),
		Note:            t.Note,
		Concurrency:     t.Concurrency,
		MinSegmentSize:  t.MinSegmentSize,
		Segments:        make([]checkpoint.SegmentRecord, 0, len(t.Segments)),
	}
	for _, s := range t.Segments {
		// Read state before progress: a segment seen as done has all of its
		// bytes counted.
		state := s.State()
		rec.Segments = append(rec.Segments, checkpoint.SegmentRecord{
			Start:   s.Start,
			End:     s.End,
			Written: s.Written(),
			State:   state.String(),
		})
	}
	return rec
}

// transferFromRecord rebuilds the in-memory transfer. Active segments were
// interrupted mid-flight and come back as pending; failed segments get a
// fresh retry budget.
func transferFromRecord(rec *checkpoint.Record) (*Transfer, error) {
	if rec == nil {
		return nil, errors.New("nil checkpoint record")
	}
	t := &Transfer{
		ID:              rec.ID,
		Source:          rec.Source,
		Destination:     rec.Destination,
		Artifact:        rec.Artifact,
		TotalSize:       rec.TotalSize,
		Validator:       rec.Validator,
		ContentType:     rec.ContentType,
		RangesSupported: rec.RangesSupported,
		Mode:            ParseMode(rec.Mode),
		Note:            rec.Note,
		Concurrency:     rec.Concurrency,
		MinSegmentSize:  rec.MinSegmentSize,
		State:           StateActive,
	}
	if t.Artifact == "" {
		t.Artifact = ArtifactPath(t.Destination)
	}
	for i, sr := range rec.Segments {
		state, err := ParseSegmentState(sr.State)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", checkpoint.ErrCorrupt, err)
		}
		if state != SegmentDone {
			state = SegmentPending
		}
		seg := NewSegment(i, sr.Start, sr.End)
		seg.SetState(state)
		seg.SetWritten(sr.Written)
		t.Segments = append(t.Segments, seg)
	}
	return t, nil
}
