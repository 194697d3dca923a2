// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"net"
	"os"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/client-go/kubernetes"

	"github.com/juju/charmruntime/internal/agent"
	"github.com/juju/charmruntime/internal/apiserver"
	"github.com/juju/charmruntime/internal/charm"
	"github.com/juju/charmruntime/internal/charms/fastapidemo"
	k8sprovider "github.com/juju/charmruntime/internal/provider/kubernetes"
	"github.com/juju/charmruntime/internal/relation"
	"github.com/juju/charmruntime/internal/resource"
	"github.com/juju/charmruntime/internal/status"
	"github.com/juju/charmruntime/internal/worker/reconciler"
	"github.com/juju/charmruntime/internal/worker/resourcebinder"
)

type daemonParams struct {
	Config   *agent.Config
	Client   kubernetes.Interface
	Listener net.Listener
	Clock    clock.Clock
}

// daemon owns the workers of a running charm. It stops when any of them
// fails, or when killed.
type daemon struct {
	catacomb catacomb.Catacomb
}

// newDaemon wires the charm runtime together and starts its workers.
func newDaemon(params daemonParams) (worker.Worker, error) {
	cfg := params.Config
	meta, charmConfig, err := loadCharm(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}

	provider, err := k8sprovider.NewProvider(k8sprovider.Config{
		Client:      params.Client,
		Namespace:   cfg.Namespace(),
		Application: cfg.Application(),
		ResourceDir: cfg.ResourceDir(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	queue := reconciler.NewEventQueue()
	limiter, err := resource.NewResolveLimiter(0, cfg.ResolveConcurrency())
	if err != nil {
		return nil, errors.Trace(err)
	}
	binder, err := resource.NewBinder(resource.BinderConfig{
		Resources: meta.Resources,
		Resolver:  provider,
		Limiter:   limiter,
		Notify: func(name string) {
			queue.Push(reconciler.Event{Kind: reconciler.EventResourceChanged, Subject: name})
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	negotiator, err := relation.NewNegotiator(relation.NegotiatorConfig{
		Meta:        meta,
		Application: cfg.Application(),
		Publisher:   provider,
		Notify: func() {
			queue.Push(reconciler.Event{Kind: reconciler.EventRelationChanged})
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	metrics := reconciler.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return nil, errors.Trace(err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Trace(err)
	}

	var opts []fastapidemo.Option
	if host := cfg.WorkloadHost(); host != "" {
		opts = append(opts, fastapidemo.WithVersionClient(
			fastapidemo.NewVersionClient(host, fastapidemo.DefaultVersionTimeout),
		))
	}
	demo := fastapidemo.New(opts...)
	rec, err := reconciler.New(reconciler.Config{
		Meta:      meta,
		Charm:     demo,
		Relations: negotiator,
		Resources: binder,
		Applier:   provider,
		Settings:  charmConfig.DefaultSettings(),
		Observer:  metrics,
		Clock:     params.Clock,
		Logger:    loggo.GetLogger("charmruntime.worker.reconciler"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	reporter, err := status.NewReporter(status.ReporterConfig{
		Meta:      meta,
		Relations: negotiator,
		Resources: binder,
		Outcomes:  rec,
		Clock:     params.Clock,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	handler, err := apiserver.NewHandler(apiserver.Config{
		Relations:   negotiator,
		Resources:   binder,
		Settings:    rec,
		CharmConfig: charmConfig,
		Status:      reporter,
		Trigger:     queue,
		Actions: apiserver.ActionFunc(func(name string, params map[string]interface{}) (map[string]interface{}, error) {
			return demo.RunAction(name, params, rec.Snapshot())
		}),
		Gatherer: registry,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	// The HTTP server starts last.
	var workers []worker.Worker
	kill := func() {
		for _, w := range workers {
			w.Kill()
		}
	}
	bindWorker, err := resourcebinder.NewWorker(resourcebinder.Config{
		Binder: binder,
		Logger: loggo.GetLogger("charmruntime.worker.resourcebinder"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	workers = append(workers, bindWorker)
	reconcileWorker, err := reconciler.NewWorker(reconciler.WorkerConfig{
		Reconciler:     rec,
		Queue:          queue,
		Resources:      binder,
		Status:         reporter,
		StatusSetter:   provider,
		ResyncInterval: cfg.ResyncInterval(),
		RetryDelay:     cfg.RetryDelay(),
		MaxRetryDelay:  cfg.MaxRetryDelay(),
		Clock:          params.Clock,
		Logger:         loggo.GetLogger("charmruntime.worker.reconciler"),
	})
	if err != nil {
		kill()
		return nil, errors.Trace(err)
	}
	workers = append(workers, reconcileWorker)
	serverWorker, err := apiserver.NewWorker(apiserver.WorkerConfig{
		Listener: params.Listener,
		Handler:  handler,
	})
	if err != nil {
		kill()
		return nil, errors.Trace(err)
	}
	workers = append(workers, serverWorker)

	d := &daemon{}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &d.catacomb,
		Work: d.loop,
		Init: workers,
	}); err != nil {
		kill()
		return nil, errors.Trace(err)
	}
	return d, nil
}

// Kill is part of the worker.Worker interface.
func (d *daemon) Kill() {
	d.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (d *daemon) Wait() error {
	return d.catacomb.Wait()
}

func (d *daemon) loop() error {
	<-d.catacomb.Dying()
	return d.catacomb.ErrDying()
}

// loadCharm reads the charm declaration named by the config, falling back
// to the bundled demo charm.
func loadCharm(cfg *agent.Config) (*charm.Meta, *charm.Config, error) {
	if cfg.MetadataPath() == "" {
		meta, err := fastapidemo.Meta()
		if err != nil {
			return nil, nil, errors.Annotate(err, "bundled charm metadata")
		}
		config, err := fastapidemo.Config()
		if err != nil {
			return nil, nil, errors.Annotate(err, "bundled charm config")
		}
		return meta, config, nil
	}

	f, err := os.Open(cfg.MetadataPath())
	if err != nil {
		return nil, nil, errors.Annotate(err, "opening charm metadata")
	}
	defer f.Close()
	meta, err := charm.ReadMeta(f)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "charm metadata %q", cfg.MetadataPath())
	}

	if cfg.CharmConfigPath() == "" {
		return meta, charm.NewConfig(), nil
	}
	cf, err := os.Open(cfg.CharmConfigPath())
	if err != nil {
		return nil, nil, errors.Annotate(err, "opening charm config")
	}
	defer cf.Close()
	config, err := charm.ReadConfig(cf)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "charm config %q", cfg.CharmConfigPath())
	}
	return meta, config, nil
}
