// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"
)

// shutdownTimeout bounds how long in-flight requests may take once the
// worker is killed.
const shutdownTimeout = 5 * time.Second

// WorkerConfig holds the dependencies of the HTTP server worker.
type WorkerConfig struct {
	Listener net.Listener
	Handler  http.Handler
}

// Validate returns an error if the config cannot be used to start the
// worker.
func (config WorkerConfig) Validate() error {
	if config.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if config.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	return nil
}

type serverWorker struct {
	tomb   tomb.Tomb
	server *http.Server
	config WorkerConfig
}

// NewWorker serves the handler on the listener until killed.
func NewWorker(config WorkerConfig) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &serverWorker{
		config: config,
		server: &http.Server{
			Handler:           config.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *serverWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *serverWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *serverWorker) loop() error {
	w.tomb.Go(func() error {
		logger.Infof("serving on %s", w.config.Listener.Addr())
		err := w.server.Serve(w.config.Listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Annotate(err, "serving HTTP API")
	})

	<-w.tomb.Dying()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.server.Shutdown(ctx); err != nil {
		logger.Warningf("shutting down HTTP API: %v", err)
	}
	return tomb.ErrDying
}
