// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	coreresource "github.com/juju/charmruntime/core/resource"
	"github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/resource"
)

const (
	// DefaultResyncInterval is how often a pass runs when nothing else
	// triggers one.
	DefaultResyncInterval = 5 * time.Minute

	// DefaultRetryDelay is the delay before the first retry of a resource
	// that failed transiently.
	DefaultRetryDelay = 5 * time.Second

	// DefaultMaxRetryDelay caps the backoff between retries.
	DefaultMaxRetryDelay = 5 * time.Minute
)

// Rebinder re-attempts resource resolutions.
type Rebinder interface {
	Resources
	Rebind(ctx context.Context, name string) (resource.Binding, error)
}

// Passer runs reconciliation passes.
type Passer interface {
	Reconcile(ctx context.Context, events []Event) ([]ConfigAction, error)
}

// WorkerConfig holds the dependencies of the reconciliation worker.
type WorkerConfig struct {
	Reconciler Passer
	Queue      *EventQueue
	Resources  Rebinder
	// Status is consulted after every pass; changes are pushed to
	// StatusSetter.
	Status       status.Getter
	StatusSetter status.Setter

	ResyncInterval time.Duration
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration

	Clock  clock.Clock
	Logger Logger
}

// Validate returns an error if the config cannot be used to start a worker.
func (config WorkerConfig) Validate() error {
	if config.Reconciler == nil {
		return errors.NotValidf("nil Reconciler")
	}
	if config.Queue == nil {
		return errors.NotValidf("nil Queue")
	}
	if config.Resources == nil {
		return errors.NotValidf("nil Resources")
	}
	if config.Status == nil {
		return errors.NotValidf("nil Status")
	}
	if config.StatusSetter == nil {
		return errors.NotValidf("nil StatusSetter")
	}
	if config.ResyncInterval <= 0 {
		return errors.NotValidf("non-positive ResyncInterval")
	}
	if config.RetryDelay <= 0 {
		return errors.NotValidf("non-positive RetryDelay")
	}
	if config.MaxRetryDelay < config.RetryDelay {
		return errors.NotValidf("MaxRetryDelay shorter than RetryDelay")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// reconcileWorker drives the Reconciler from the event queue, the resync
// timer and resource retries. A failed pass never stops it.
type reconcileWorker struct {
	catacomb catacomb.Catacomb
	config   WorkerConfig

	backoff  func(time.Duration, int) time.Duration
	retryDue chan string
	retries  map[string]clock.Timer
	rebinds  sync.WaitGroup

	reported *status.StatusInfo
}

// NewWorker starts a worker that runs reconciliation passes until killed.
func NewWorker(config WorkerConfig) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &reconcileWorker{
		config:   config,
		backoff:  retry.ExpBackoff(config.RetryDelay, config.MaxRetryDelay, 2, false),
		retryDue: make(chan string),
		retries:  make(map[string]clock.Timer),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *reconcileWorker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *reconcileWorker) Wait() error {
	return w.catacomb.Wait()
}

func (w *reconcileWorker) loop() error {
	ctx := w.catacomb.Context(context.Background())
	defer func() {
		for _, timer := range w.retries {
			timer.Stop()
		}
		w.rebinds.Wait()
	}()

	resync := w.config.Clock.NewTimer(w.config.ResyncInterval)
	defer resync.Stop()

	w.config.Queue.Push(Event{Kind: EventStarted})
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-w.config.Queue.Ready():
			events := w.config.Queue.Drain()
			if len(events) == 0 {
				continue
			}
			w.pass(ctx, events)
			resync.Reset(w.config.ResyncInterval)
		case <-resync.Chan():
			w.config.Queue.Push(Event{Kind: EventTimer})
			resync.Reset(w.config.ResyncInterval)
		case name := <-w.retryDue:
			delete(w.retries, name)
			w.rebind(ctx, name)
		}
	}
}

func (w *reconcileWorker) pass(ctx context.Context, events []Event) {
	// The error is logged by the reconciler and surfaces in status; the
	// next trigger retries.
	_, _ = w.config.Reconciler.Reconcile(ctx, events)
	w.scheduleRetries()
	w.reportStatus(ctx)
}

// scheduleRetries starts a backoff timer for every transiently failed
// resource that does not have one, and stops timers for resources that no
// longer need them.
func (w *reconcileWorker) scheduleRetries() {
	needed := set.NewStrings()
	for _, b := range w.config.Resources.Snapshot() {
		if b.State != coreresource.Failed || b.Failure != coreresource.FailureTransient {
			continue
		}
		needed.Add(b.Name)
		if _, ok := w.retries[b.Name]; ok {
			continue
		}
		delay := w.backoff(0, b.Attempts)
		w.config.Logger.Debugf("retrying resource %q in %v (attempt %d)", b.Name, delay, b.Attempts+1)
		name := b.Name
		w.retries[name] = w.config.Clock.AfterFunc(delay, func() {
			select {
			case w.retryDue <- name:
			case <-w.catacomb.Dying():
			}
		})
	}
	for name, timer := range w.retries {
		if !needed.Contains(name) {
			timer.Stop()
			delete(w.retries, name)
		}
	}
}

// rebind resolves the resource again without blocking the loop. The binder
// notifies the queue when the binding changes.
func (w *reconcileWorker) rebind(ctx context.Context, name string) {
	w.rebinds.Add(1)
	go func() {
		defer w.rebinds.Done()
		if _, err := w.config.Resources.Rebind(ctx, name); err != nil {
			w.config.Logger.Debugf("rebinding resource %q: %v", name, err)
		}
	}()
}

func (w *reconcileWorker) reportStatus(ctx context.Context) {
	current := w.config.Status.CurrentStatus()
	if w.reported != nil && w.reported.Equal(current) {
		return
	}
	if err := w.config.StatusSetter.SetStatus(ctx, current); err != nil {
		w.config.Logger.Warningf("cannot set status %q: %v", current, err)
		return
	}
	w.config.Logger.Infof("status %s", current)
	w.reported = &current
}
