package precompute

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Start while a run is in flight.
var ErrAlreadyRunning = errors.New("re-embed already running")

// Status is the runner state exposed to operators.
type Status struct {
	Running bool    `json:"running"`
	RunID   string  `json:"run_id,omitempty"`
	Last    *Report `json:"last_report,omitempty"`
}

// Runner starts background runs of a Job, one at a time.
type Runner struct {
	job    *Job
	logger zerolog.Logger
	newID  func() string

	mu      sync.Mutex
	running bool
	current string
	last    *Report
	done    chan struct{}
}

// NewRunner creates a Runner for job.
func NewRunner(job *Job, logger zerolog.Logger) *Runner {
	return &Runner{
		job:    job,
		logger: logger.With().Str("component", "precompute_runner").Logger(),
		newID:  uuid.NewString,
	}
}

// Start launches a run detached from ctx cancellation and returns its id.
func (r *Runner) Start(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	runID := r.newID()
	r.running = true
	r.current = runID
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		r.logger.Info().Str("run_id", runID).Msg("re-embed started")

		report := r.run(runCtx, runID)

		r.mu.Lock()
		r.running = false
		r.current = ""
		r.last = report
		r.mu.Unlock()
	}()

	return runID, nil
}

// run executes the job once. A panic inside the job is recorded in the
// report so the runner stays usable.
func (r *Runner) run(ctx context.Context, runID string) (report *Report) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Str("stack", string(debug.Stack())).
				Str("run_id", runID).Msg("re-embed panicked")
			if report == nil {
				report = &Report{}
			}
			report.RunID = runID
			report.Error = fmt.Sprintf("panic: %v", p)
		}
	}()

	report, err := r.job.Run(ctx)
	if report == nil {
		report = &Report{}
	}
	report.RunID = runID
	if err != nil {
		report.Error = err.Error()
		r.logger.Error().Err(err).Str("run_id", runID).Msg("re-embed failed")
	} else {
		r.logger.Info().Str("run_id", runID).Int("upserted", report.Upserted).Msg("re-embed completed")
	}
	return report
}

// Status returns whether a run is active and the last finished report.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.running, RunID: r.current, Last: r.last}
}

// Wait blocks until the active run, if any, finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
