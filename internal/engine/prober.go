package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Probe asks the source for metadata only. Failures come back as
// ErrResourceNotFound or wrapped in ErrProbeFailed.
func Probe(ctx context.Context, src Source, locator string) (*Metadata, error) {
	meta, err := src.Probe(ctx, locator)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) || errors.Is(err, ErrProbeFailed) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: empty metadata", ErrProbeFailed)
	}
	return meta, nil
}

// plan probes the resource and lays out the segments of t.
func (e *Engine) plan(ctx context.Context, t *Transfer) error {
	t.State = StatePlanning
	e.emitTransfer(t, EventTransfer, "probing")
	meta, err := Probe(ctx, e.src, t.Source)
	if err != nil {
		return err
	}
	t.TotalSize = meta.Size
	t.Validator = meta.Validator
	t.ContentType = meta.ContentType
	t.RangesSupported = meta.SupportsRanges
	t.Concurrency = max(1, e.opts.Concurrency)
	t.MinSegmentSize = e.opts.MinSegmentSize
	t.Mode = ModeSegmented
	t.Note = ""

	switch {
	case !meta.SupportsRanges:
		e.singleStream(t, "server does not accept range requests; using a single connection")
	case meta.Size < 0:
		e.singleStream(t, "server did not report a length; using a single connection")
	default:
		t.Segments = Plan(t.TotalSize, t.Concurrency, t.MinSegmentSize)
		if len(t.Segments) == 1 {
			t.Mode = ModeSingleStream
		}
	}
	if t.Validator == "" {
		log.Warn().Str("op", "engine/prober").Msgf("No validator for %s; changes to the resource cannot be detected", t.Source)
	}
	log.Debug().Str("op", "engine/prober").Int64("size", t.TotalSize).Bool("ranges", t.RangesSupported).
		Int("segments", len(t.Segments)).Msgf("Planned %s", t.Source)
	return nil
}

// singleStream switches t to one segment over the whole resource with
// concurrency forced to 1, and records why.
func (e *Engine) singleStream(t *Transfer, note string) {
	t.Mode = ModeSingleStream
	t.Concurrency = 1
	t.Note = note
	t.Segments = Plan(t.TotalSize, 1, 1)
	log.Info().Str("op", "engine/prober").Msgf("%s: %s", t.Source, note)
	e.emitTransfer(t, EventFallback, note)
}
