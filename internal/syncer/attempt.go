package syncer

import (
	"errors"

	"github.com/runnerr0/procedura/internal/types"
)

// Result is the outcome of one sync attempt.
type Result struct {
	Success     bool
	ProcedureID string
	Error       string
}

// Attempt is one call to Pipeline.Sync. Its progress channel is sized for
// the whole attempt so the pipeline never blocks on a slow reader, and it
// is closed after the terminal event. Short-circuited attempts (busy)
// close it without events.
type Attempt struct {
	progress chan types.SyncProgress
	done     chan struct{}
	result   Result
}

func newAttempt(capacity int) *Attempt {
	return &Attempt{
		progress: make(chan types.SyncProgress, capacity),
		done:     make(chan struct{}),
	}
}

func (a *Attempt) emit(p types.SyncProgress) {
	a.progress <- p
}

func (a *Attempt) finish(r Result) {
	a.result = r
	close(a.progress)
	close(a.done)
}

// Progress yields the attempt's progress events in order.
func (a *Attempt) Progress() <-chan types.SyncProgress {
	return a.progress
}

// Done is closed once the result is available.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the attempt finishes and returns its result.
func (a *Attempt) Wait() Result {
	<-a.done
	return a.result
}

// Err maps the result to an error: nil on success, ErrBusy or ErrOffline
// for the short-circuit paths.
func (r Result) Err() error {
	switch {
	case r.Success:
		return nil
	case r.Error == MsgBusy:
		return ErrBusy
	case r.Error == MsgOffline:
		return ErrOffline
	}
	return errors.New(r.Error)
}
