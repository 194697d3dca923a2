// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler_test

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	corestatus "github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/resource"
	"github.com/juju/charmruntime/internal/worker/reconciler"
)

type workerSuite struct {
	fixture
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) config() reconciler.WorkerConfig {
	return reconciler.WorkerConfig{
		Reconciler:     s.reconciler,
		Queue:          s.queue,
		Resources:      s.binder,
		Status:         s.reporter,
		StatusSetter:   s.setter,
		ResyncInterval: time.Hour,
		RetryDelay:     time.Second,
		MaxRetryDelay:  10 * time.Second,
		Clock:          s.clock,
		Logger:         loggo.GetLogger("charmruntime.worker.reconciler"),
	}
}

func (s *workerSuite) newWorker(c *gc.C) worker.Worker {
	w, err := reconciler.NewWorker(s.config())
	c.Assert(err, jc.ErrorIsNil)
	return w
}

func (s *workerSuite) waitPass(c *gc.C) reconciler.PassResult {
	select {
	case result := <-s.recorder.passes:
		return result
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for a reconciliation pass")
	}
	panic("unreachable")
}

func (s *workerSuite) TestValidate(c *gc.C) {
	for i, test := range []struct {
		mutate func(*reconciler.WorkerConfig)
		err    string
	}{{
		mutate: func(cfg *reconciler.WorkerConfig) { cfg.Reconciler = nil },
		err:    "nil Reconciler not valid",
	}, {
		mutate: func(cfg *reconciler.WorkerConfig) { cfg.Queue = nil },
		err:    "nil Queue not valid",
	}, {
		mutate: func(cfg *reconciler.WorkerConfig) { cfg.StatusSetter = nil },
		err:    "nil StatusSetter not valid",
	}, {
		mutate: func(cfg *reconciler.WorkerConfig) { cfg.ResyncInterval = 0 },
		err:    "non-positive ResyncInterval not valid",
	}, {
		mutate: func(cfg *reconciler.WorkerConfig) { cfg.MaxRetryDelay = time.Millisecond },
		err:    "MaxRetryDelay shorter than RetryDelay not valid",
	}, {
		mutate: func(cfg *reconciler.WorkerConfig) { cfg.Logger = nil },
		err:    "nil Logger not valid",
	}} {
		c.Logf("test %d: %s", i, test.err)
		cfg := s.config()
		test.mutate(&cfg)
		_, err := reconciler.NewWorker(cfg)
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *workerSuite) TestBlockedUntilDependenciesReady(c *gc.C) {
	w := s.newWorker(c)
	defer workertest.DirtyKill(c, w)

	seen := s.waitStatus(c, corestatus.Blocked)
	c.Check(seen[len(seen)-1].Message, gc.Equals, "missing relations: database")

	s.bind(c)
	s.joinDatabase(c)
	s.waitStatus(c, corestatus.Active)

	calls := s.applier.calls()
	c.Assert(calls, gc.HasLen, 1)
	c.Check(calls[0].container, gc.Equals, "demo-server")
	c.Check(calls[0].config.Image, gc.Equals, upstreamImage)
	c.Check(applyPasses(s.drainPasses()), gc.Equals, 1)

	workertest.CleanKill(c, w)
	c.Check(s.applier.calls(), gc.HasLen, 1)
}

func (s *workerSuite) TestPermanentFailureFixedByAttach(c *gc.C) {
	const fixedImage = "ghcr.io/canonical/api_demo_server:1.0.2"
	s.resolver.set(upstreamImage)
	s.joinDatabase(c)
	_, err := s.binder.Bind(context.Background(), imageName)
	c.Assert(err, jc.ErrorIs, resource.BindingFailed)
	c.Assert(resource.IsTransient(err), jc.IsFalse)

	w := s.newWorker(c)
	defer workertest.DirtyKill(c, w)

	seen := s.waitStatus(c, corestatus.Blocked)
	c.Check(seen[len(seen)-1].Message, gc.Matches, `resource "demo-server-image" failed: .*not found`)
	c.Check(s.applier.calls(), gc.HasLen, 0)

	s.resolver.set(fixedImage, resolveResult{location: fixedImage})
	c.Assert(s.binder.Attach(imageName, fixedImage), jc.ErrorIsNil)
	binding, err := s.binder.Rebind(context.Background(), imageName)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(binding.Location, gc.Equals, fixedImage)

	s.waitStatus(c, corestatus.Active)
	c.Check(applyPasses(s.drainPasses()), gc.Equals, 1)
	calls := s.applier.calls()
	c.Assert(calls, gc.HasLen, 1)
	c.Check(calls[0].config.Image, gc.Equals, fixedImage)

	workertest.CleanKill(c, w)
}

func (s *workerSuite) TestTransientFailureRetried(c *gc.C) {
	s.resolver.set(upstreamImage,
		resolveResult{err: resource.NewTransientError(errors.New("registry unavailable"))},
		resolveResult{location: upstreamImage},
	)
	s.joinDatabase(c)
	_, err := s.binder.Bind(context.Background(), imageName)
	c.Assert(resource.IsTransient(err), jc.IsTrue)

	w := s.newWorker(c)
	defer workertest.DirtyKill(c, w)

	seen := s.waitStatus(c, corestatus.Waiting)
	c.Check(seen[len(seen)-1].Message, gc.Matches, `.*retrying resource "demo-server-image": registry unavailable`)

	// The resync timer and the retry timer.
	err = s.clock.WaitAdvance(10*time.Second, testing.LongWait, 2)
	c.Assert(err, jc.ErrorIsNil)

	s.waitStatus(c, corestatus.Active)
	binding, err := s.binder.Binding(imageName)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(binding.Location, gc.Equals, upstreamImage)
	c.Check(s.applier.calls(), gc.HasLen, 1)

	workertest.CleanKill(c, w)
}

func (s *workerSuite) TestResyncTimerTriggersPass(c *gc.C) {
	w := s.newWorker(c)
	defer workertest.DirtyKill(c, w)

	first := s.waitPass(c)
	c.Check(first.Events, jc.DeepEquals, []reconciler.Event{{Kind: reconciler.EventStarted}})

	err := s.clock.WaitAdvance(time.Hour, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	next := s.waitPass(c)
	c.Check(next.Events, jc.DeepEquals, []reconciler.Event{{Kind: reconciler.EventTimer}})

	workertest.CleanKill(c, w)
}

func (s *workerSuite) TestEventsDuringPassCoalesced(c *gc.C) {
	const fixedImage = "ghcr.io/canonical/api_demo_server:1.0.2"
	s.bind(c)
	s.joinDatabase(c)
	s.queue.Drain()
	release := s.applier.block()

	w := s.newWorker(c)
	defer workertest.DirtyKill(c, w)

	select {
	case container := <-s.applier.entered:
		c.Check(container, gc.Equals, "demo-server")
	case <-time.After(testing.LongWait):
		c.Fatalf("first pass never applied")
	}

	// The first pass is stuck applying; everything below arrives during it.
	c.Assert(s.negotiator.OnRemoteChanged(1, map[string]string{"endpoints": "10.9.9.9:5432"}), jc.ErrorIsNil)
	c.Assert(s.negotiator.OnRemoteChanged(1, databaseSettings), jc.ErrorIsNil)
	s.resolver.set(fixedImage, resolveResult{location: fixedImage})
	c.Assert(s.binder.Attach(imageName, fixedImage), jc.ErrorIsNil)
	_, err := s.binder.Rebind(context.Background(), imageName)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.queue.Len(), gc.Equals, 2)

	close(release)
	first := s.waitPass(c)
	c.Check(first.Events, jc.DeepEquals, []reconciler.Event{{Kind: reconciler.EventStarted}})

	second := s.waitPass(c)
	c.Check(second.Events, jc.DeepEquals, []reconciler.Event{
		{Kind: reconciler.EventRelationChanged},
		{Kind: reconciler.EventResourceChanged, Subject: imageName},
	})
	c.Assert(second.Actions, gc.HasLen, 1)
	applied := second.Actions[0].Config
	c.Check(applied.Image, gc.Equals, fixedImage)
	c.Check(applied.Environment["DEMO_SERVER_DB_HOST"], gc.Equals, "10.1.2.3")

	select {
	case result := <-s.recorder.passes:
		c.Fatalf("unexpected pass for %v", result.Events)
	case <-time.After(testing.ShortWait):
	}
	c.Check(s.applier.calls(), gc.HasLen, 2)

	workertest.CleanKill(c, w)
}

func (s *workerSuite) TestUnchangedStatusNotPushed(c *gc.C) {
	w := s.newWorker(c)
	defer workertest.DirtyKill(c, w)

	s.waitStatus(c, corestatus.Blocked)
	s.waitPass(c)

	s.queue.Push(reconciler.Event{Kind: reconciler.EventForced})
	s.waitPass(c)
	select {
	case info := <-s.setter.changes:
		c.Fatalf("unexpected status %v", info)
	case <-time.After(testing.ShortWait):
	}

	workertest.CleanKill(c, w)
}
