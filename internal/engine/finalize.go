package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// finalize checks that every segment is done and the sizes add up, then
// moves the artifact into place and drops the checkpoint.
func (e *Engine) finalize(t *Transfer, art *artifact, j *journal) error {
	var sum int64
	for _, s := range t.Segments {
		if s.State() != SegmentDone {
			return fmt.Errorf("%w: segment %d is %s at finalize", ErrProtocolViolation, s.ID, s.State())
		}
		if s.Bounded() {
			sum += s.Size()
		} else {
			sum += s.Written()
		}
	}
	if t.TotalSize < 0 {
		// Length was unknown: whatever arrived is the resource.
		t.TotalSize = sum
		if err := art.Truncate(sum); err != nil {
			return err
		}
		log.Debug().Str("op", "engine/finalize").Msgf("Accepting %d received bytes as final size", sum)
	}
	if sum != t.TotalSize {
		return fmt.Errorf("%w: segments hold %d bytes, expected %d", ErrProtocolViolation, sum, t.TotalSize)
	}
	if size, err := art.Size(); err != nil {
		return err
	} else if size != t.TotalSize {
		return fmt.Errorf("%w: artifact is %d bytes, expected %d", ErrDiskIO, size, t.TotalSize)
	}
	if err := art.Sync(); err != nil {
		return err
	}
	if err := art.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.Destination), 0755); err != nil {
		return fmt.Errorf("%w: error creating destination directory: %v", ErrDiskIO, err)
	}
	if err := os.Rename(art.path, t.Destination); err != nil {
		return fmt.Errorf("%w: error renaming (finalizing) output file: %v", ErrDiskIO, err)
	}
	if err := j.delete(); err != nil {
		log.Warn().Str("op", "engine/finalize").Err(err).Msg("Could not delete checkpoint")
	}
	// Only succeeds when no other artifact is in flight.
	os.Remove(filepath.Dir(art.path))
	t.State = StateCompleted
	log.Info().Str("op", "engine/finalize").Msgf("Completed %s (%d bytes)", t.Destination, t.TotalSize)
	return nil
}
