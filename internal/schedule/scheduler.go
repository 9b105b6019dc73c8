// Package schedule runs ingestion jobs with bounded concurrency and failure
// isolation: one job's panic or error never disturbs its siblings.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
	"github.com/JakeFAU/newswire-ingest/internal/progress"
)

// DefaultMaxConcurrency bounds simultaneous jobs when the caller passes zero.
const DefaultMaxConcurrency = 5

// Scheduler fans jobs out to a bounded set of goroutines.
type Scheduler struct {
	maxConcurrency int
	logger         *zap.Logger
	clock          ingest.Clock
	emitter        progress.Emitter
	runID          [16]byte
}

// Option customizes Scheduler construction.
type Option func(*Scheduler)

// WithLogger injects the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock injects a time source for deterministic tests.
func WithClock(clk ingest.Clock) Option {
	return func(s *Scheduler) { s.clock = clk }
}

// WithEmitter wires an observer receiving job lifecycle events.
func WithEmitter(e progress.Emitter, runID [16]byte) Option {
	return func(s *Scheduler) {
		s.emitter = e
		s.runID = runID
	}
}

// New builds a Scheduler. maxConcurrency <= 0 selects DefaultMaxConcurrency.
func New(maxConcurrency int, opts ...Option) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	s := &Scheduler{
		maxConcurrency: maxConcurrency,
		logger:         zap.NewNop(),
		emitter:        progress.NopEmitter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}
	return s
}

// RunAll executes every job, at most maxConcurrency at a time, and waits for
// all of them. Results come back in the same order as jobs. Jobs still queued
// when the context is cancelled are never launched; they are reported as
// cancelled. Already-running ones are left to observe the context themselves.
func (s *Scheduler) RunAll(ctx context.Context, jobs []ingest.Job) []ingest.JobResult {
	results := make([]ingest.JobResult, len(jobs))
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i, job := range jobs {
		launched := false
		if ctx.Err() == nil {
			// Waiting for a slot is itself a cancellation point. When a slot
			// frees at the same instant the context is cancelled, cancellation
			// wins and the slot goes back.
			select {
			case sem <- struct{}{}:
				if ctx.Err() != nil {
					<-sem
				} else {
					launched = true
				}
			case <-ctx.Done():
			}
		}
		if !launched {
			results[i] = ingest.JobResult{
				Name: job.Name,
				Err:  ingest.NewError(ingest.KindCancelled, "schedule", ctx.Err()),
			}
			s.emitJob(progress.StageJobError, job.Name, 0, "cancelled before launch")
			continue
		}
		wg.Add(1)
		go func(i int, job ingest.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.RunOne(ctx, job)
		}(i, job)
	}
	wg.Wait()
	return results
}

// RunOne executes a single job, converting panics into job failures.
func (s *Scheduler) RunOne(ctx context.Context, job ingest.Job) ingest.JobResult {
	s.emitJob(progress.StageJobStart, job.Name, 0, "")
	s.logger.Info("job started", zap.String("job", job.Name))

	start := s.clock.Now()
	err := s.runIsolated(ctx, job)
	elapsed := s.clock.Now().Sub(start)

	result := ingest.JobResult{
		Name:     job.Name,
		Success:  err == nil,
		Err:      err,
		Duration: elapsed,
	}
	if err != nil {
		s.emitJob(progress.StageJobError, job.Name, elapsed, err.Error())
		s.logger.Warn("job failed",
			zap.String("job", job.Name),
			zap.Duration("runtime", elapsed),
			zap.Error(err),
		)
		return result
	}
	s.emitJob(progress.StageJobDone, job.Name, elapsed, "")
	s.logger.Info("job finished",
		zap.String("job", job.Name),
		zap.Duration("runtime", elapsed),
	)
	return result
}

// runIsolated invokes the job body behind a recover barrier.
func (s *Scheduler) runIsolated(ctx context.Context, job ingest.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ingest.NewError(
				ingest.KindJobFailure,
				"run "+job.Name,
				fmt.Errorf("recovered panic: %v\n%s", r, debug.Stack()),
			)
		}
	}()
	if job.Run == nil {
		return ingest.NewError(ingest.KindJobFailure, "run "+job.Name, fmt.Errorf("job has no body"))
	}
	return job.Run(ctx)
}

func (s *Scheduler) emitJob(stage progress.Stage, name string, dur time.Duration, note string) {
	s.emitter.Emit(progress.Event{
		RunID: s.runID,
		TS:    s.clock.Now(),
		Stage: stage,
		Job:   name,
		Dur:   dur,
		Note:  note,
	})
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}
