// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/charmruntime/internal/workload"
)

type workloadSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&workloadSuite{})

func demoConfig() workload.Config {
	return workload.Config{
		Image:   "ghcr.io/canonical/api_demo_server:1.0.1",
		Service: "fastapi-service",
		Command: "uvicorn api_demo_server.app:app --host=0.0.0.0 --port=8000",
		Environment: map[string]string{
			"DEMO_SERVER_DB_HOST": "10.0.0.1",
		},
		Ports: []workload.Port{{ContainerPort: 8000}},
	}
}

func (s *workloadSuite) TestDiffEqual(c *gc.C) {
	c.Check(workload.Diff(demoConfig(), demoConfig()), gc.HasLen, 0)
	c.Check(workload.Diff(workload.Config{}, workload.Config{Environment: map[string]string{}}), gc.HasLen, 0)
}

func (s *workloadSuite) TestDiffFields(c *gc.C) {
	next := demoConfig()
	next.Image = "ghcr.io/canonical/api_demo_server:1.0.2"
	next.Environment = map[string]string{"DEMO_SERVER_DB_HOST": "10.0.0.2"}
	c.Check(workload.Diff(demoConfig(), next), jc.DeepEquals, []string{
		workload.FieldImage, workload.FieldEnvironment,
	})

	c.Check(workload.Diff(workload.Config{}, demoConfig()), jc.DeepEquals, []string{
		workload.FieldImage, workload.FieldService, workload.FieldCommand,
		workload.FieldEnvironment, workload.FieldPorts,
	})
}

func (s *workloadSuite) TestDiffPortsIgnoresOrderAndDefaultProtocol(c *gc.C) {
	a := workload.Config{Ports: []workload.Port{{ContainerPort: 80}, {ContainerPort: 53, Protocol: "UDP"}}}
	b := workload.Config{Ports: []workload.Port{{ContainerPort: 53, Protocol: "UDP"}, {ContainerPort: 80, Protocol: "TCP"}}}
	c.Check(workload.Diff(a, b), gc.HasLen, 0)

	b.Ports[0].Protocol = "TCP"
	c.Check(workload.Diff(a, b), jc.DeepEquals, []string{workload.FieldPorts})
}

func (s *workloadSuite) TestValidate(c *gc.C) {
	c.Check(demoConfig().Validate(), jc.ErrorIsNil)

	for i, t := range []struct {
		config workload.Config
		err    string
	}{{
		config: workload.Config{},
		err:    "missing image not valid",
	}, {
		config: workload.Config{Image: "img", Ports: []workload.Port{{ContainerPort: 0}}},
		err:    "container port 0 not valid",
	}, {
		config: workload.Config{Image: "img", Ports: []workload.Port{{ContainerPort: 80, Protocol: "HTTP"}}},
		err:    `protocol "HTTP" for port 80 not valid`,
	}, {
		config: workload.Config{Image: "img", Mounts: map[string]string{"data": "/srv/data"}},
		err:    `mount path "data" not valid`,
	}} {
		c.Logf("test %d", i)
		err := t.config.Validate()
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, t.err)
	}
}

func (s *workloadSuite) TestBlocked(c *gc.C) {
	err := workload.Blocked("Invalid port number, 22 is reserved for SSH")
	c.Check(err, jc.ErrorIs, workload.ErrBlocked)

	reason, ok := workload.BlockedReason(errors.Annotate(err, "computing desired state"))
	c.Check(ok, jc.IsTrue)
	c.Check(reason, gc.Equals, "Invalid port number, 22 is reserved for SSH")

	_, ok = workload.BlockedReason(errors.New("boom"))
	c.Check(ok, jc.IsFalse)
}
