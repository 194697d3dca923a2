// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	corerelation "github.com/juju/charmruntime/core/relation"
	corestatus "github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/charm"
	"github.com/juju/charmruntime/internal/charm/charmtesting"
	"github.com/juju/charmruntime/internal/charms/fastapidemo"
	"github.com/juju/charmruntime/internal/worker/reconciler"
	"github.com/juju/charmruntime/internal/workload"
)

type reconcilerSuite struct {
	fixture
}

var _ = gc.Suite(&reconcilerSuite{})

var databaseSettings = map[string]string{
	"endpoints": "10.1.2.3:5432",
	"username":  "relation-4",
	"password":  "s3cret",
}

func (s *reconcilerSuite) TestValidate(c *gc.C) {
	_, err := reconciler.New(reconciler.Config{})
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, "nil Meta not valid")
}

func (s *reconcilerSuite) TestWaitingEmittedOnce(c *gc.C) {
	actions := s.reconcile(c)
	c.Check(actions, jc.DeepEquals, []reconciler.ConfigAction{{
		Kind:   reconciler.ActionWaitingForDependencies,
		Reason: "waiting for resources: demo-server-image; waiting for relations: database",
	}})
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Blocked)

	c.Check(s.reconcile(c), gc.HasLen, 0)

	s.bind(c)
	actions = s.reconcile(c)
	c.Check(actions, jc.DeepEquals, []reconciler.ConfigAction{{
		Kind:   reconciler.ActionWaitingForDependencies,
		Reason: "waiting for relations: database",
	}})
}

func (s *reconcilerSuite) TestApplyOnceThenIdempotent(c *gc.C) {
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Blocked)

	s.bind(c)
	s.joinDatabase(c)
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Waiting)

	actions := s.reconcile(c)
	c.Assert(actions, gc.HasLen, 1)
	c.Check(actions[0].Kind, gc.Equals, reconciler.ActionApply)
	c.Check(actions[0].Container, gc.Equals, "demo-server")
	c.Check(actions[0].Config.Image, gc.Equals, upstreamImage)
	c.Check(actions[0].Changed, jc.DeepEquals, []string{
		workload.FieldImage, workload.FieldService, workload.FieldCommand, workload.FieldPorts,
	})
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Active)

	c.Check(s.reconcile(c), gc.HasLen, 0)
	c.Check(s.reconcile(c), gc.HasLen, 0)
	c.Check(s.applier.calls(), gc.HasLen, 1)

	applied, ok := s.reconciler.Applied("demo-server")
	c.Assert(ok, jc.IsTrue)
	c.Check(applied.Image, gc.Equals, upstreamImage)
}

func (s *reconcilerSuite) TestRelationDataChangesEnvironment(c *gc.C) {
	s.bind(c)
	s.joinDatabase(c)
	s.reconcile(c)

	err := s.negotiator.OnRemoteChanged(1, databaseSettings)
	c.Assert(err, jc.ErrorIsNil)
	actions := s.reconcile(c)
	c.Assert(actions, gc.HasLen, 1)
	c.Check(actions[0].Changed, jc.DeepEquals, []string{workload.FieldEnvironment})
	c.Check(actions[0].Config.Environment["DEMO_SERVER_DB_HOST"], gc.Equals, "10.1.2.3")
}

func (s *reconcilerSuite) TestSettingsChange(c *gc.C) {
	s.bind(c)
	s.joinDatabase(c)
	s.reconcile(c)

	s.reconciler.SetSettings(charm.Settings{"server-port": 9000})
	actions := s.reconcile(c)
	c.Assert(actions, gc.HasLen, 1)
	c.Check(actions[0].Changed, jc.DeepEquals, []string{workload.FieldCommand, workload.FieldPorts})
}

func (s *reconcilerSuite) TestBlockedByCharm(c *gc.C) {
	s.bind(c)
	s.joinDatabase(c)
	s.reconciler.SetSettings(charm.Settings{"server-port": 22})

	c.Check(s.reconcile(c), gc.HasLen, 0)
	c.Check(s.reconciler.Outcome().Blocked, gc.Equals, "Invalid port number, 22 is reserved for SSH")
	c.Check(s.reporter.CurrentStatus(), jc.Satisfies, func(info corestatus.StatusInfo) bool {
		return info.Status == corestatus.Blocked && info.Message == "Invalid port number, 22 is reserved for SSH"
	})
	c.Check(s.applier.calls(), gc.HasLen, 0)

	s.reconciler.SetSettings(charm.Settings{"server-port": 8000})
	c.Check(s.reconcile(c), gc.HasLen, 1)
	c.Check(s.reconciler.Outcome().Blocked, gc.Equals, "")
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Active)
}

func (s *reconcilerSuite) TestDesiredStateErrorLeavesConfiguration(c *gc.C) {
	s.bind(c)
	s.joinDatabase(c)
	c.Assert(s.negotiator.OnRemoteChanged(1, databaseSettings), jc.ErrorIsNil)
	s.reconcile(c)
	before, _ := s.reconciler.Applied("demo-server")

	c.Assert(s.negotiator.OnRemoteChanged(1, map[string]string{"endpoints": "not-an-endpoint"}), jc.ErrorIsNil)
	actions, err := s.reconciler.Reconcile(context.Background(), nil)
	<-s.recorder.passes
	c.Assert(err, jc.ErrorIs, reconciler.ErrReconciliation)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(actions, gc.HasLen, 0)
	c.Check(s.applier.calls(), gc.HasLen, 1)

	after, _ := s.reconciler.Applied("demo-server")
	c.Check(after, jc.DeepEquals, before)
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Error)

	// Retried on the next trigger once the data is fixed.
	c.Assert(s.negotiator.OnRemoteChanged(1, map[string]string{"endpoints": "10.1.2.4:5432"}), jc.ErrorIsNil)
	c.Check(s.reconcile(c), gc.HasLen, 1)
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Active)
}

func (s *reconcilerSuite) TestApplyFailureRetried(c *gc.C) {
	s.bind(c)
	s.joinDatabase(c)
	s.applier.setError(errors.New("connection refused"))

	actions, err := s.reconciler.Reconcile(context.Background(), nil)
	<-s.recorder.passes
	c.Assert(err, jc.ErrorIs, reconciler.ErrReconciliation)
	c.Check(err, gc.ErrorMatches, `reconciliation failed for \[demo-server\]: applying "demo-server": connection refused`)
	c.Check(actions, gc.HasLen, 0)
	_, ok := s.reconciler.Applied("demo-server")
	c.Check(ok, jc.IsFalse)

	s.applier.setError(nil)
	c.Check(s.reconcile(c), gc.HasLen, 1)
}

func (s *reconcilerSuite) TestDepartedPrunedAfterOnePass(c *gc.C) {
	s.bind(c)
	s.joinDatabase(c)
	s.reconcile(c)

	c.Assert(s.negotiator.OnDepart(1), jc.ErrorIsNil)
	c.Check(s.negotiator.Snapshot()[0].State, gc.Equals, corerelation.Departing)

	actions := s.reconcile(c)
	c.Check(actions, jc.DeepEquals, []reconciler.ConfigAction{{
		Kind:   reconciler.ActionWaitingForDependencies,
		Reason: "waiting for relations: database",
	}})
	c.Check(s.negotiator.Snapshot(), gc.HasLen, 0)
	c.Check(s.reporter.CurrentStatus().Status, gc.Equals, corestatus.Blocked)

	// The last good configuration stays applied.
	c.Check(s.applier.calls(), gc.HasLen, 1)
}

func (s *reconcilerSuite) TestStartCounterPublished(c *gc.C) {
	_, err := s.negotiator.OnJoin(relationPeer(5))
	c.Assert(err, jc.ErrorIsNil)

	s.reconcile(c)
	s.publisher.mu.Lock()
	defer s.publisher.mu.Unlock()
	c.Check(s.publisher.published[5], jc.DeepEquals, map[string]string{
		"unit_stats": `{"started_counter":1}`,
	})
}

func (s *reconcilerSuite) TestStartCounterPublishedWhenPeerJoinsLater(c *gc.C) {
	s.reconcile(c)

	_, err := s.negotiator.OnJoin(relationPeer(5))
	c.Assert(err, jc.ErrorIsNil)
	s.reconcile(c)
	s.reconcile(c)

	s.publisher.mu.Lock()
	defer s.publisher.mu.Unlock()
	c.Check(s.publisher.published[5], jc.DeepEquals, map[string]string{
		"unit_stats": `{"started_counter":1}`,
	})
}

func (s *reconcilerSuite) TestDepartWhileJoiningTakesEveryStep(c *gc.C) {
	s.joinDatabase(c)
	c.Assert(s.negotiator.OnDepart(1), jc.ErrorIsNil)

	s.reconcile(c)
	c.Check(s.negotiator.Snapshot()[0].State, gc.Equals, corerelation.Joined)
	s.reconcile(c)
	c.Check(s.negotiator.Snapshot()[0].State, gc.Equals, corerelation.Departing)
	s.reconcile(c)
	c.Check(s.negotiator.Snapshot(), gc.HasLen, 0)
}

func (s *reconcilerSuite) TestWorkloadVersionReported(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"1.0.1"}`)
	}))
	defer srv.Close()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	c.Assert(err, jc.ErrorIsNil)
	port, err := strconv.Atoi(portStr)
	c.Assert(err, jc.ErrorIsNil)

	rec, err := reconciler.New(reconciler.Config{
		Meta: charmtesting.DemoMeta(),
		Charm: fastapidemo.New(fastapidemo.WithVersionClient(
			fastapidemo.NewVersionClient(host, time.Second),
		)),
		Relations: s.negotiator,
		Resources: s.binder,
		Applier:   s.applier,
		Settings:  charm.Settings{"server-port": port},
		Clock:     s.clock,
		Logger:    loggo.GetLogger("charmruntime.worker.reconciler"),
	})
	c.Assert(err, jc.ErrorIsNil)

	// Nothing is running yet.
	_, err = rec.Reconcile(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Outcome().WorkloadVersion, gc.Equals, "")

	s.bind(c)
	s.joinDatabase(c)
	_, err = rec.Reconcile(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Outcome().WorkloadVersion, gc.Equals, "1.0.1")

	// The version sticks while the workload cannot be reached.
	srv.Close()
	rec.SetSettings(charm.Settings{"server-port": 22})
	_, err = rec.Reconcile(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Outcome().Blocked, gc.Not(gc.Equals), "")
	c.Check(rec.Outcome().WorkloadVersion, gc.Equals, "1.0.1")
}

// pairCharm runs the same image in two containers.
type pairCharm struct {
	image string
}

func (p *pairCharm) DesiredState(reconciler.Snapshot) (map[string]workload.Config, error) {
	return map[string]workload.Config{
		"demo-server": {Image: p.image},
		"sidecar":     {Image: p.image},
	}, nil
}

func (s *reconcilerSuite) TestFailedApplyRestoresEarlierContainers(c *gc.C) {
	meta := charmtesting.DemoMeta()
	meta.Containers["sidecar"] = charm.Container{Name: "sidecar", Resource: imageName}
	pair := &pairCharm{image: "demo:1"}
	rec, err := reconciler.New(reconciler.Config{
		Meta:      meta,
		Charm:     pair,
		Relations: s.negotiator,
		Resources: s.binder,
		Applier:   s.applier,
		Clock:     s.clock,
		Logger:    loggo.GetLogger("charmruntime.worker.reconciler"),
	})
	c.Assert(err, jc.ErrorIsNil)
	s.bind(c)
	s.joinDatabase(c)

	actions, err := rec.Reconcile(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(actions, gc.HasLen, 2)

	pair.image = "demo:2"
	s.applier.failContainer("sidecar")
	actions, err = rec.Reconcile(context.Background(), nil)
	c.Assert(err, jc.ErrorIs, reconciler.ErrReconciliation)
	c.Check(err, gc.ErrorMatches, `reconciliation failed for \[sidecar\]: applying "sidecar": container "sidecar" unavailable`)
	c.Check(actions, gc.HasLen, 0)

	var images []string
	for _, call := range s.applier.calls() {
		images = append(images, call.container+"="+call.config.Image)
	}
	c.Check(images, jc.DeepEquals, []string{
		"demo-server=demo:1",
		"sidecar=demo:1",
		"demo-server=demo:2",
		"demo-server=demo:1",
	})
	applied, ok := rec.Applied("demo-server")
	c.Assert(ok, jc.IsTrue)
	c.Check(applied.Image, gc.Equals, "demo:1")

	s.applier.failContainer("")
	actions, err = rec.Reconcile(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(actions, gc.HasLen, 2)
	applied, _ = rec.Applied("sidecar")
	c.Check(applied.Image, gc.Equals, "demo:2")
}

func (s *reconcilerSuite) TestMetrics(c *gc.C) {
	metrics := reconciler.NewMetrics()
	metrics.PassCompleted(reconciler.PassResult{
		Actions: []reconciler.ConfigAction{{Kind: reconciler.ActionApply}},
	})
	metrics.PassCompleted(reconciler.PassResult{
		Actions: []reconciler.ConfigAction{{Kind: reconciler.ActionWaitingForDependencies}},
	})
	metrics.PassCompleted(reconciler.PassResult{Err: errors.New("boom")})

	c.Check(testutil.CollectAndCount(metrics, "charmruntime_reconciler_passes_total"), gc.Equals, 2)
	c.Check(testutil.CollectAndCount(metrics, "charmruntime_reconciler_pass_duration_seconds"), gc.Equals, 1)
	c.Check(testutil.ToFloat64(reconciler.MetricsCounter(metrics, "apply")), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(reconciler.MetricsCounter(metrics, "errors")), gc.Equals, float64(1))
}
