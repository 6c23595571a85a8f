package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/parcel/internal/checkpoint"
	"github.com/tanq16/parcel/internal/engine"
	"github.com/tanq16/parcel/internal/output"
	"github.com/tanq16/parcel/internal/utils"
)

// Resolver picks the source for a locator.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (engine.Source, error)
}

type Result struct {
	Job         utils.Job
	Destination string
	// Skipped is set when the destination already held the resource.
	Skipped bool
	Outcome *engine.Outcome
	Err     error
}

// ExitCode folds the results into one process exit code. Cancellation wins
// over failures, and plain failures over exhausted retries.
func ExitCode(results []Result) int {
	code := 0
	for _, r := range results {
		c := 0
		switch {
		case r.Err != nil:
			c = 1
		case r.Outcome != nil:
			c = r.Outcome.Status.ExitCode()
		}
		switch {
		case c == 130 || code == 130:
			code = 130
		case c == 1 || code == 1:
			code = 1
		case c > code:
			code = c
		}
	}
	return code
}

type Scheduler struct {
	resolver Resolver
	store    checkpoint.Store
	opts     engine.Options
	out      *output.Manager
}

func New(resolver Resolver, store checkpoint.Store, opts engine.Options, out *output.Manager) *Scheduler {
	return &Scheduler{resolver: resolver, store: store, opts: opts, out: out}
}

// Run executes the jobs over numWorkers parallel transfers and returns one
// result per job, in job order.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.Job, numWorkers int) []Result {
	s.out.StartDisplay()
	defer s.out.StopDisplay()

	type indexed struct {
		i   int
		job utils.Job
	}
	jobCh := make(chan indexed, len(jobs))
	for i, job := range jobs {
		jobCh <- indexed{i, job}
	}
	close(jobCh)

	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	for range max(1, min(numWorkers, len(jobs))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobCh {
				results[item.i] = s.processJob(ctx, item.job)
			}
		}()
	}
	wg.Wait()
	return results
}

func (s *Scheduler) processJob(ctx context.Context, job utils.Job) Result {
	res := Result{Job: job}
	id := s.out.Register(job.Source)
	if ctx.Err() != nil {
		res.Outcome = &engine.Outcome{Status: engine.StatusCancelled, Err: ctx.Err(), Resumable: true}
		s.out.Pause(id, fmt.Sprintf("Not started %s", job.Source))
		return res
	}
	s.out.SetMessage(id, fmt.Sprintf("Probing %s", job.Source))

	src, err := s.resolver.Resolve(ctx, job.Source)
	if err != nil {
		res.Err = err
		s.out.ReportError(id, err)
		return res
	}
	dest, skip, err := s.resolveDestination(ctx, src, job)
	if err != nil {
		res.Err = err
		s.out.ReportError(id, err)
		return res
	}
	res.Destination = dest
	s.out.SetName(id, dest)
	if skip {
		res.Skipped = true
		log.Info().Str("op", "scheduler/job").Msgf("%s already exists with the same size, skipping", dest)
		s.out.Complete(id, fmt.Sprintf("Skipped %s (already exists)", dest))
		return res
	}

	opts := s.opts
	if job.Connections > 0 {
		opts.Concurrency = job.Connections
	}
	opts.OnEvent = s.eventHandler(id)
	s.out.SetStatus(id, output.StatusActive)
	s.out.SetMessage(id, fmt.Sprintf("Downloading %s", dest))

	outcome := engine.New(src, s.store, opts).Run(ctx, job.Source, dest)
	res.Outcome = outcome
	switch outcome.Status {
	case engine.StatusCompleted:
		s.out.Complete(id, fmt.Sprintf("Completed %s (%s in %s, %s)", dest, humanize.IBytes(uint64(outcome.Size)),
			outcome.Elapsed.Round(10*time.Millisecond), output.FormatSpeed(outcome.Size, outcome.Elapsed.Seconds())))
	case engine.StatusCancelled:
		s.out.Pause(id, fmt.Sprintf("Paused %s at %s", dest, humanize.IBytes(uint64(outcome.Size))))
	default:
		s.out.ReportError(id, outcome.Err)
	}
	return res
}

// resolveDestination infers a file name when none was given (or a directory
// was given) and handles an existing file: same size means done, otherwise
// the new download goes to a fresh "name-(N).ext".
func (s *Scheduler) resolveDestination(ctx context.Context, src engine.Source, job utils.Job) (string, bool, error) {
	// Checkpoints are keyed by destination, so it must not depend on the cwd.
	dest, err := filepath.Abs(cmp.Or(job.OutputPath, "."))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", engine.ErrFatal, err)
	}
	info, statErr := os.Stat(dest)
	needName := job.OutputPath == "" || (statErr == nil && info.IsDir())
	if !needName && statErr != nil {
		// A pending checkpoint for this destination is resumed as is.
		return dest, false, nil
	}

	meta, err := engine.Probe(ctx, src, job.Source)
	if err != nil {
		return "", false, err
	}
	if needName {
		name := meta.FileName
		if name == "" {
			name = utils.FileNameFromLocator(job.Source)
		}
		dest = filepath.Join(dest, name)
		info, statErr = os.Stat(dest)
	}
	if statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return dest, false, nil
		}
		return "", false, fmt.Errorf("%w: %v", engine.ErrDiskIO, statErr)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%w: %s is a directory", engine.ErrFatal, dest)
	}
	if meta.Size >= 0 && info.Size() == meta.Size {
		return dest, true, nil
	}
	renewed := utils.RenewOutputPath(dest)
	log.Debug().Str("op", "scheduler/job").Msgf("%s exists, downloading to %s", dest, renewed)
	return renewed, false, nil
}

func (s *Scheduler) eventHandler(id int) func(engine.Event) {
	return func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventProgress:
			if ev.SegmentID < 0 {
				s.out.UpdateProgress(id, ev.BytesWritten, ev.Total)
			} else {
				s.out.UpdateSegment(id, ev.SegmentID, ev.BytesWritten, ev.Total, ev.State)
			}
		case engine.EventSegment, engine.EventRetry:
			s.out.UpdateSegment(id, ev.SegmentID, ev.BytesWritten, ev.Total, ev.State)
		case engine.EventFallback:
			s.out.SetNote(id, ev.Message)
			s.out.ResetSegments(id)
		case engine.EventRestart:
			s.out.ResetSegments(id)
			s.out.AddStreamLine(id, "restarted: "+ev.Message)
		case engine.EventTransfer:
			s.out.UpdateProgress(id, ev.BytesWritten, ev.Total)
		}
	}
}
