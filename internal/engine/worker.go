package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const copyBufferSize = 256 * 1024

// segmentExhausted is returned by a segment task whose transient failures
// used up the retry budget. It does not stop the other workers.
type segmentExhausted struct {
	failure SegmentFailure
}

func (e *segmentExhausted) Error() string {
	return fmt.Sprintf("segment %d exhausted: %v", e.failure.SegmentID, e.failure.Err)
}

// runPool drives every unfinished segment of t through a bounded pool of
// workers. Workers pull from a shared queue, so a fast worker picks up the
// next segment as soon as it frees up. Transfer-level failures (fatal,
// range-unsupported, validator mismatch, cancellation) cancel the siblings
// and are returned as-is.
func (e *Engine) runPool(ctx context.Context, t *Transfer, art *artifact, j *journal) error {
	pending := t.pending()
	if len(pending) == 0 {
		return nil
	}
	queue := make(chan *Segment, len(pending))
	for _, s := range pending {
		queue <- s
	}
	close(queue)

	workers := min(max(1, t.Concurrency), len(pending))
	if t.Mode == ModeSingleStream {
		workers = 1
	}
	log.Debug().Str("op", "engine/worker").Msgf("Dispatching %d segment(s) over %d worker(s)", len(pending), workers)

	var mu sync.Mutex
	var failures []SegmentFailure
	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for seg := range queue {
				if err := gctx.Err(); err != nil {
					return err
				}
				err := e.runSegment(gctx, t, seg, art, j)
				var ex *segmentExhausted
				if errors.As(err, &ex) {
					mu.Lock()
					failures = append(failures, ex.failure)
					mu.Unlock()
					continue
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failures) > 0 {
		return &ExhaustedError{Failures: failures}
	}
	return nil
}

// runSegment is the retry loop of one segment task.
func (e *Engine) runSegment(ctx context.Context, t *Transfer, seg *Segment, art *artifact, j *journal) error {
	for {
		seg.Attempts++
		if err := e.opts.Retry.Wait(ctx, seg.Attempts); err != nil {
			seg.SetState(SegmentPending)
			return err
		}
		seg.SetState(SegmentActive)
		e.emitSegment(t, seg, "")

		before := seg.Written()
		err := e.fetchSegment(ctx, t, seg, art)
		if err == nil {
			seg.SetState(SegmentDone)
			seg.LastErr = nil
			e.emitSegment(t, seg, "")
			if ferr := j.flush(); ferr != nil {
				if errors.Is(ferr, ErrDiskIO) {
					return ferr
				}
				log.Warn().Str("op", "engine/worker").Err(ferr).Msg("Checkpoint update failed")
			}
			return nil
		}

		seg.LastErr = err
		if ctx.Err() != nil {
			seg.SetState(SegmentPending)
			return ctx.Err()
		}
		class := Classify(err)
		switch class {
		case ClassCancelled:
			seg.SetState(SegmentPending)
			return err
		case ClassTransient:
			// an attempt that moved the offset forward starts a fresh budget
			if e.partialResume(t, seg) && seg.Written() > before {
				seg.Attempts = 0
			}
			if e.opts.Retry.Exhausted(seg.Attempts) {
				seg.SetState(SegmentFailed)
				e.emitSegment(t, seg, err.Error())
				log.Error().Str("op", "engine/worker").Int("segment", seg.ID).Err(err).Msgf("Giving up after %d attempts", seg.Attempts)
				if ferr := j.flush(); ferr != nil {
					log.Warn().Str("op", "engine/worker").Err(ferr).Msg("Checkpoint update failed")
				}
				return &segmentExhausted{failure: SegmentFailure{SegmentID: seg.ID, Attempts: seg.Attempts, Err: err}}
			}
			log.Warn().Str("op", "engine/worker").Int("segment", seg.ID).Err(err).Msgf("Retrying (attempt %d/%d)", seg.Attempts+1, e.opts.Retry.MaxAttempts)
			seg.SetState(SegmentFailed)
			e.emit(Event{TransferID: t.ID, SegmentID: seg.ID, Kind: EventRetry, State: SegmentFailed.String(), BytesWritten: seg.Written(), Total: seg.Size(), Message: err.Error()})
			seg.SetState(SegmentPending)
		default:
			seg.SetState(SegmentFailed)
			e.emitSegment(t, seg, err.Error())
			log.Error().Str("op", "engine/worker").Int("segment", seg.ID).Str("class", class.String()).Err(err).Msg("Segment aborted")
			return err
		}
	}
}

// partialResume reports whether a segment may continue from its written
// offset instead of restarting at its start.
func (e *Engine) partialResume(t *Transfer, seg *Segment) bool {
	return t.RangesSupported && seg.Bounded() && !e.opts.RestartSegments
}

// fetchSegment streams the remaining bytes of seg into the artifact at the
// segment's offset.
func (e *Engine) fetchSegment(ctx context.Context, t *Transfer, seg *Segment, art *artifact) error {
	if !e.partialResume(t, seg) && seg.Written() > 0 {
		seg.SetWritten(0)
	}
	if !seg.Bounded() && seg.Written() == 0 {
		if err := art.Truncate(0); err != nil {
			return err
		}
	}
	r := seg.Remaining()
	if seg.Bounded() && r.Len() == 0 {
		return nil
	}
	if !t.RangesSupported {
		r = ByteRange{Start: 0, End: -1}
	}

	body, err := e.src.Fetch(ctx, t.Source, r, t.Validator)
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, copyBufferSize)
	size := seg.Size()
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			written := seg.Written()
			if size >= 0 && written+int64(n) > size {
				return fmt.Errorf("%w: segment %d received %d bytes beyond its %d-byte range", ErrProtocolViolation, seg.ID, written+int64(n)-size, size)
			}
			if _, werr := art.WriteAt(buf[:n], seg.Start+written); werr != nil {
				return werr
			}
			seg.addWritten(int64(n))
		}
		if rerr == io.EOF {
			if size >= 0 && seg.Written() < size {
				return fmt.Errorf("%w: segment %d stream ended after %d of %d bytes", ErrTransient, seg.ID, seg.Written(), size)
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
