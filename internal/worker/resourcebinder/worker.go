// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package resourcebinder provides a worker that binds every declared resource
// once at startup. Later retries and rebinds are driven by the reconciler.
package resourcebinder

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"golang.org/x/sync/errgroup"
	"gopkg.in/tomb.v2"

	coreresource "github.com/juju/charmruntime/core/resource"
	"github.com/juju/charmruntime/internal/resource"
)

// Logger represents the logging methods called.
type Logger interface {
	Infof(message string, args ...any)
	Warningf(message string, args ...any)
}

// Binder is the part of the resource binder the worker drives.
type Binder interface {
	Snapshot() []resource.Binding
	Bind(ctx context.Context, name string) (resource.Binding, error)
}

// Config holds the dependencies of the worker.
type Config struct {
	Binder Binder
	Logger Logger
}

// Validate returns an error if the config cannot be used to start the
// worker.
func (config Config) Validate() error {
	if config.Binder == nil {
		return errors.NotValidf("nil Binder")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

type bindWorker struct {
	tomb   tomb.Tomb
	config Config
}

// NewWorker starts binding every unbound resource concurrently. The worker
// finishes once each resolution has completed; failed bindings are recorded
// by the binder and are not worker errors.
func NewWorker(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &bindWorker{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *bindWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *bindWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *bindWorker) loop() error {
	ctx := w.tomb.Context(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	var (
		mu            sync.Mutex
		bound, failed int
	)
	for _, b := range w.config.Binder.Snapshot() {
		if b.State != coreresource.Unbound {
			continue
		}
		name := b.Name
		g.Go(func() error {
			_, err := w.config.Binder.Bind(ctx, name)
			switch {
			case err == nil:
				mu.Lock()
				bound++
				mu.Unlock()
				return nil
			case errors.Is(err, resource.BindingFailed):
				mu.Lock()
				failed++
				mu.Unlock()
				w.config.Logger.Warningf("%v", err)
				return nil
			case errors.Is(err, resource.BindingAbandoned), errors.Is(err, errors.NotFound):
				// Removed while we were starting.
				return nil
			}
			return errors.Annotatef(err, "binding resource %q", name)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Trace(err)
	}
	w.config.Logger.Infof("startup binding complete: %d bound, %d failed", bound, failed)
	return nil
}
