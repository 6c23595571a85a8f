// Package engine is the segmented parallel transfer engine: it probes a
// resource, splits it into byte-range segments, fetches them concurrently,
// checkpoints progress and assembles a byte-exact copy at the destination.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/parcel/internal/checkpoint"
)

type Options struct {
	Concurrency    int
	MinSegmentSize int64
	Retry          RetryPolicy
	// MaxRestarts bounds how often a changed resource restarts the transfer.
	MaxRestarts int
	// RestartSegments disables partial-segment resume; a retried segment is
	// fetched again from its own start.
	RestartSegments bool
	// CheckpointInterval is how often in-flight progress is persisted on top
	// of the updates on segment completion and failure.
	CheckpointInterval time.Duration
	// CheckpointTTL makes older checkpoints count as absent.
	CheckpointTTL    time.Duration
	ProgressInterval time.Duration
	// OnEvent is called from worker goroutines and must be safe for
	// concurrent use.
	OnEvent func(Event)
}

func DefaultOptions() Options {
	return Options{
		Concurrency:        8,
		MinSegmentSize:     1024 * 1024,
		Retry:              DefaultRetryPolicy(),
		MaxRestarts:        3,
		CheckpointInterval: 2 * time.Second,
		CheckpointTTL:      7 * 24 * time.Hour,
		ProgressInterval:   250 * time.Millisecond,
	}
}

type Engine struct {
	src   Source
	store checkpoint.Store
	opts  Options
}

// New builds an engine. store may be nil, in which case nothing is
// checkpointed and interrupted transfers start over.
func New(src Source, store checkpoint.Store, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.MinSegmentSize <= 0 {
		opts.MinSegmentSize = def.MinSegmentSize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if opts.MaxRestarts < 0 {
		opts.MaxRestarts = 0
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = def.CheckpointInterval
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	return &Engine{src: src, store: store, opts: opts}
}

// Run downloads source to destination, resuming from a matching checkpoint
// when one exists. It returns when the transfer completes, fails, or ctx is
// cancelled; a cancelled run leaves a checkpoint to resume from.
func (e *Engine) Run(ctx context.Context, source, destination string) *Outcome {
	t := NewTransfer(source, destination, e.opts.Concurrency, e.opts.MinSegmentSize)
	return e.RunTransfer(ctx, t)
}

func (e *Engine) RunTransfer(ctx context.Context, t *Transfer) *Outcome {
	start := time.Now()
	out := e.run(ctx, t)
	out.TransferID = t.ID
	out.Destination = t.Destination
	out.Note = t.Note
	out.Elapsed = time.Since(start)
	if out.Status == StatusCompleted {
		out.Size = t.TotalSize
	} else {
		out.Size = t.Written()
	}
	e.emitTransfer(t, EventTransfer, out.Status.String())
	return out
}

func (e *Engine) run(ctx context.Context, t *Transfer) *Outcome {
	fresh := true
	if restored := e.restore(t); restored != nil {
		*t = *restored
		fresh = false
		log.Info().Str("op", "engine/run").Msgf("Resuming %s from checkpoint (%d bytes done)", t.Destination, t.Written())
	}
	restarts := 0
	for {
		if t.State == StatePlanning {
			if err := e.plan(ctx, t); err != nil {
				if ctx.Err() != nil {
					t.State = StatePaused
					return &Outcome{Status: StatusCancelled, Err: context.Canceled}
				}
				return e.failed(t, nil, nil, err)
			}
			fresh = true
		}
		art, err := e.prepareArtifact(t, fresh)
		if err != nil {
			return e.failed(t, nil, nil, err)
		}
		j := newJournal(e.store, t, art)
		if err := j.flush(); err != nil {
			if errors.Is(err, ErrDiskIO) {
				art.Close()
				return e.failed(t, nil, nil, err)
			}
			log.Warn().Str("op", "engine/run").Err(err).Msg("Could not create checkpoint")
		}
		t.State = StateActive
		e.emitTransfer(t, EventTransfer, t.Mode.String())

		stop := e.startFlusher(t, j)
		err = e.runPool(ctx, t, art, j)
		stop()

		if err == nil {
			if err := e.finalize(t, art, j); err != nil {
				art.Close()
				return e.failed(t, nil, j, err)
			}
			return &Outcome{Status: StatusCompleted}
		}

		var exhausted *ExhaustedError
		switch class := Classify(err); {
		case class == ClassCancelled || ctx.Err() != nil:
			t.State = StatePaused
			if ferr := j.flush(); ferr != nil {
				log.Warn().Str("op", "engine/run").Err(ferr).Msg("Could not persist checkpoint on pause")
			}
			art.Close()
			log.Info().Str("op", "engine/run").Msgf("Paused %s at %d bytes", t.Destination, t.Written())
			return &Outcome{Status: StatusCancelled, Err: context.Canceled, Resumable: e.store != nil}
		case errors.As(err, &exhausted):
			return e.failed(t, art, j, err)
		case class == ClassRangeUnsupported:
			art.Close()
			if t.Mode == ModeSingleStream && !t.RangesSupported {
				return e.failed(t, nil, j, err)
			}
			t.RangesSupported = false
			e.singleStream(t, "server rejected a range request; falling back to a single connection")
			fresh = true
		case class == ClassValidatorMismatch:
			art.Close()
			restarts++
			if err := j.delete(); err != nil {
				log.Warn().Str("op", "engine/run").Err(err).Msg("Could not delete stale checkpoint")
			}
			os.Remove(t.Artifact)
			if restarts > e.opts.MaxRestarts {
				t.State = StateFailed
				return &Outcome{Status: StatusFatal, Err: fmt.Errorf("gave up after %d restarts: %w", e.opts.MaxRestarts, err)}
			}
			log.Warn().Str("op", "engine/run").Err(err).Msgf("Resource changed, discarding progress (restart %d/%d)", restarts, e.opts.MaxRestarts)
			t.reset()
			e.emitTransfer(t, EventRestart, err.Error())
		default:
			return e.failed(t, art, j, err)
		}
	}
}

// failed records a terminal failure. The checkpoint is flushed so the
// transfer can be resumed later by hand.
func (e *Engine) failed(t *Transfer, art *artifact, j *journal, err error) *Outcome {
	t.State = StateFailed
	if j != nil {
		if ferr := j.flush(); ferr != nil {
			log.Warn().Str("op", "engine/run").Err(ferr).Msg("Could not persist checkpoint on failure")
		}
	}
	if art != nil {
		art.Close()
	}
	out := &Outcome{Status: StatusFatal, Err: err, Resumable: e.store != nil && len(t.Segments) > 0}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		out.Status = StatusRetriesExhausted
		out.Failures = exhausted.Failures
	}
	log.Error().Str("op", "engine/run").Err(err).Msgf("Transfer of %s failed", t.Destination)
	return out
}

// restore loads a checkpoint for t if a usable one exists. Corrupt, expired
// or mismatched records are deleted and treated as absent.
func (e *Engine) restore(t *Transfer) *Transfer {
	if e.store == nil {
		return nil
	}
	rec, err := e.store.Load(t.ID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.Warn().Str("op", "engine/restore").Err(err).Msg("Ignoring unreadable checkpoint")
		e.store.Delete(t.ID)
		return nil
	}
	if rec.Expired(e.opts.CheckpointTTL, time.Now()) {
		log.Info().Str("op", "engine/restore").Msgf("Checkpoint for %s expired", t.Destination)
		e.store.Delete(t.ID)
		return nil
	}
	if rec.Source != t.Source || rec.Destination != t.Destination {
		log.Warn().Str("op", "engine/restore").Msg("Checkpoint belongs to a different transfer")
		return nil
	}
	restored, err := transferFromRecord(rec)
	if err != nil {
		log.Warn().Str("op", "engine/restore").Err(err).Msg("Ignoring unreadable checkpoint")
		e.store.Delete(t.ID)
		return nil
	}
	return restored
}

// prepareArtifact opens the artifact. When resuming, an artifact that is
// missing or has the wrong size cannot back the recorded progress, so the
// plan is kept but every segment starts over.
func (e *Engine) prepareArtifact(t *Transfer, fresh bool) (*artifact, error) {
	if !fresh {
		size := artifactSize(t.Artifact)
		if size < 0 || (t.TotalSize >= 0 && size != t.TotalSize) {
			log.Warn().Str("op", "engine/run").Msg("Artifact missing or resized, restarting segments")
			for _, s := range t.Segments {
				if s.Bounded() && s.Size() == 0 {
					continue
				}
				s.SetWritten(0)
				s.SetState(SegmentPending)
			}
			fresh = true
		}
	}
	return openArtifact(t.Artifact, t.TotalSize, fresh)
}

// startFlusher persists progress every CheckpointInterval and emits progress
// events every ProgressInterval until the returned stop function is called.
func (e *Engine) startFlusher(t *Transfer, j *journal) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.ProgressInterval)
		defer ticker.Stop()
		lastFlush := time.Now()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				for _, s := range t.Segments {
					if s.State() == SegmentActive {
						e.emit(Event{TransferID: t.ID, SegmentID: s.ID, Kind: EventProgress, State: SegmentActive.String(), BytesWritten: s.Written(), Total: s.Size()})
					}
				}
				e.emitTransfer(t, EventProgress, "")
				if now.Sub(lastFlush) >= e.opts.CheckpointInterval {
					if err := j.flush(); err != nil {
						log.Warn().Str("op", "engine/flusher").Err(err).Msg("Periodic checkpoint failed")
					}
					lastFlush = now
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
