// Package batch runs the analysis pipeline over a selected set of
// documents: one external call at a time, in order, with cooperative
// cancellation that reaches into the in-flight call.
package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uiscope/uiscope/pkg/client"
	"github.com/uiscope/uiscope/pkg/document"
	"github.com/uiscope/uiscope/pkg/types"
)

// Status is the per-target progress of a run.
type Status int

const (
	// StatusPending means the target has not been attempted yet.
	StatusPending Status = iota
	// StatusInFlight means the target's external call is running. At most
	// one target is in flight at a time.
	StatusInFlight
	// StatusCompleted means the result was written to the document.
	StatusCompleted
	// StatusFailed covers both a failed call and a target skipped by
	// cancellation or a fatal run abort.
	StatusFailed
)

// String implements fmt.Stringer for log output.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in-flight"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "canceled-or-failed"
	default:
		return "unknown"
	}
}

// State is the runner's coarse lifecycle.
type State int

const (
	// StateIdle means no run is active; Start may be called.
	StateIdle State = iota
	// StateRunning means a run is in progress.
	StateRunning
)

// Run-level invocation errors.
var (
	ErrAlreadyRunning = errors.New("a batch run is already in progress")
	ErrNoTargets      = errors.New("no targets to analyze")
)

// Summary describes a finished run for operator feedback.
type Summary struct {
	RunID     string
	Total     int
	Completed int
	Canceled  bool
	// Err is set only for a fatal run-level abort such as a missing
	// credential. Per-item failures and cancellation do not set it.
	Err error
}

// AnalyzeFunc performs the external analysis call for one document,
// working from a snapshot of its analyzer inputs. It must honor ctx so
// cancellation interrupts the call itself rather than waiting out its
// latency.
type AnalyzeFunc func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error)

// Runner orchestrates one sequential analysis run at a time. Per-item
// failures never surface as errors to the caller; only invocation errors
// (empty target list, run already active) come back from Start.
type Runner struct {
	docs    *document.Store
	analyze AnalyzeFunc
	log     zerolog.Logger

	mu       sync.Mutex
	state    State
	runID    string
	order    []int
	statuses map[int]Status
	cancel   context.CancelFunc
	done     chan struct{}
	summary  *Summary
}

// NewRunner creates an idle runner writing results into docs.
func NewRunner(docs *document.Store, analyze AnalyzeFunc, log zerolog.Logger) *Runner {
	return &Runner{
		docs:     docs,
		analyze:  analyze,
		log:      log.With().Str("cmp", "batch").Logger(),
		statuses: map[int]Status{},
	}
}

// Start begins a run over targetIDs in the given order. It rejects an empty
// target list and a call while a run is active. The run proceeds in the
// background; use Wait or poll State for completion.
func (r *Runner) Start(ctx context.Context, targetIDs []int) error {
	if len(targetIDs) == 0 {
		return ErrNoTargets
	}

	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.state = StateRunning
	r.runID = uuid.NewString()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.order = append([]int(nil), targetIDs...)
	r.statuses = make(map[int]Status, len(targetIDs))
	for _, id := range targetIDs {
		r.statuses[id] = StatusPending
	}
	runID := r.runID
	r.mu.Unlock()

	r.log.Info().Str("run_id", runID).Int("targets", len(targetIDs)).Msg("batch run started")
	go r.run(runCtx, targetIDs)
	return nil
}

// Cancel signals the active run's token. The in-flight call observes it
// through its request context, so cancellation does not wait for the call
// to finish on its own.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the active run finishes. It returns immediately when no
// run is active.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// State returns the runner's lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns the per-target status from the current or last run.
func (r *Runner) Status(docID int) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[docID]
	return st, ok
}

// Statuses returns a snapshot of all target statuses in target order.
func (r *Runner) Statuses() map[int]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]Status, len(r.statuses))
	for id, st := range r.statuses {
		out[id] = st
	}
	return out
}

// Summary returns the last finished run's summary, if any run has finished.
func (r *Runner) Summary() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary == nil {
		return Summary{}, false
	}
	return *r.summary, true
}

func (r *Runner) run(ctx context.Context, targetIDs []int) {
	summary := Summary{RunID: r.runID, Total: len(targetIDs)}

	for i, id := range targetIDs {
		// Check the token between iterations; a cancel landing here stops
		// before the next target is attempted.
		if ctx.Err() != nil {
			summary.Canceled = true
			r.failFrom(targetIDs, i)
			break
		}

		// Snapshot under the store lock; the live document stays editable
		// while the call is in flight.
		in, err := r.docs.AnalysisInput(id)
		if err != nil {
			r.log.Warn().Int("doc_id", id).Msg("target vanished before analysis")
			r.setStatus(id, StatusFailed)
			continue
		}

		r.setStatus(id, StatusInFlight)
		result, err := r.analyze(ctx, in)

		switch {
		case ctx.Err() != nil:
			// Canceled mid-call. The call was interrupted through its
			// context (or its late result is discarded here); this target
			// and everything after it is marked untried.
			summary.Canceled = true
			r.failFrom(targetIDs, i)
		case errors.Is(err, client.ErrMissingCredential):
			// Fatal precondition: nothing later can succeed either.
			r.log.Error().Err(err).Int("doc_id", id).Msg("fatal analyzer error, aborting run")
			summary.Err = err
			r.failFrom(targetIDs, i)
		case err != nil:
			// Recoverable per-item failure; the batch continues.
			r.log.Warn().Err(err).Int("doc_id", id).Msg("analysis failed for document")
			r.setStatus(id, StatusFailed)
			continue
		default:
			if err := r.docs.SetResult(id, result); err != nil {
				r.log.Warn().Err(err).Int("doc_id", id).Msg("failed to store result")
				r.setStatus(id, StatusFailed)
				continue
			}
			r.setStatus(id, StatusCompleted)
			summary.Completed++
			continue
		}
		break
	}

	r.mu.Lock()
	r.state = StateIdle
	r.cancel = nil
	r.summary = &summary
	done := r.done
	r.done = nil
	r.mu.Unlock()

	r.log.Info().
		Str("run_id", summary.RunID).
		Int("completed", summary.Completed).
		Int("total", summary.Total).
		Bool("canceled", summary.Canceled).
		Msg("batch run finished")
	close(done)
}

func (r *Runner) setStatus(id int, st Status) {
	r.mu.Lock()
	r.statuses[id] = st
	r.mu.Unlock()
}

// failFrom marks the target at index i and every later target as
// canceled-or-failed, leaving earlier completed targets untouched.
func (r *Runner) failFrom(targetIDs []int, i int) {
	r.mu.Lock()
	for _, id := range targetIDs[i:] {
		if r.statuses[id] != StatusCompleted {
			r.statuses[id] = StatusFailed
		}
	}
	r.mu.Unlock()
}
