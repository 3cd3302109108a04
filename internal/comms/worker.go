package comms

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/rolling"
)

var (
	// ErrNotReady is returned until the boot sync has been attempted.
	ErrNotReady = errors.New("comms: not ready, boot sync pending")

	// ErrStopped is returned once the worker loop has exited.
	ErrStopped = errors.New("comms: worker stopped")
)

// Status is a read-only view of the controller.
type Status struct {
	Door     door.State    `json:"door"`
	Identity rolling.State `json:"identity"`
	Queued   int           `json:"queued"`
}

type request struct {
	fn   func(*Controller) error
	done chan error
}

// Worker is the only goroutine that touches a Controller. Everyone else
// submits closures through Do.
type Worker struct {
	ctrl           *Controller
	requests       chan request
	stopped        chan struct{}
	ready          atomic.Bool
	stepInterval   time.Duration
	motionInterval time.Duration
}

// NewWorker wraps ctrl. stepInterval paces the scheduling step and
// motionInterval the motion expiry check.
func NewWorker(ctrl *Controller, stepInterval, motionInterval time.Duration) *Worker {
	return &Worker{
		ctrl:           ctrl,
		requests:       make(chan request),
		stopped:        make(chan struct{}),
		stepInterval:   stepInterval,
		motionInterval: motionInterval,
	}
}

// Run syncs with the head unit, then steps the controller until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)

	w.ctrl.Sync()
	w.ready.Store(true)
	log.Info("comms ready, stepping every %s", w.stepInterval)

	step := time.NewTicker(w.stepInterval)
	defer step.Stop()
	motion := time.NewTicker(w.motionInterval)
	defer motion.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.requests:
			req.done <- req.fn(w.ctrl)
		case <-step.C:
			w.ctrl.Step()
		case now := <-motion.C:
			w.ctrl.ExpireMotion(now)
		}
	}
}

// Ready reports whether the boot sync has been attempted.
func (w *Worker) Ready() bool {
	return w.ready.Load()
}

// Do runs fn on the worker goroutine and returns its error.
func (w *Worker) Do(ctx context.Context, fn func(*Controller) error) error {
	if !w.Ready() {
		return ErrNotReady
	}

	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open asks the door to open.
func (w *Worker) Open(ctx context.Context) error {
	return w.Do(ctx, (*Controller).OpenDoor)
}

// Close asks the door to close.
func (w *Worker) Close(ctx context.Context) error {
	return w.Do(ctx, (*Controller).CloseDoor)
}

// SetLock sets the remote lockout.
func (w *Worker) SetLock(ctx context.Context, locked bool) error {
	return w.Do(ctx, func(c *Controller) error { return c.SetLock(locked) })
}

// SetLight switches the light.
func (w *Worker) SetLight(ctx context.Context, on bool) error {
	return w.Do(ctx, func(c *Controller) error { return c.SetLight(on) })
}

// RequestStatus asks the head unit for a status report.
func (w *Worker) RequestStatus(ctx context.Context) error {
	return w.Do(ctx, (*Controller).RequestStatus)
}

// Status returns a snapshot of the controller.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	var st Status
	err := w.Do(ctx, func(c *Controller) error {
		st = Status{Door: c.State(), Identity: c.Identity(), Queued: len(c.Queued())}
		return nil
	})
	return st, err
}
