// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status_test

import (
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/charmruntime/core/status"
)

type statusSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&statusSuite{})

func (s *statusSuite) TestKnownWorkloadStatus(c *gc.C) {
	for _, st := range []status.Status{
		status.Unknown, status.Maintenance, status.Waiting,
		status.Blocked, status.Error, status.Active,
	} {
		c.Check(st.KnownWorkloadStatus(), jc.IsTrue, gc.Commentf("%s", st))
	}
	c.Check(status.Status("bogus").KnownWorkloadStatus(), jc.IsFalse)
}

func (s *statusSuite) TestString(c *gc.C) {
	c.Check(status.StatusInfo{Status: status.Active}.String(), gc.Equals, "active")
	c.Check(status.StatusInfo{
		Status:  status.Blocked,
		Message: "missing relation",
	}.String(), gc.Equals, "blocked: missing relation")
}

func (s *statusSuite) TestEqualIgnoresSince(c *gc.C) {
	now := time.Now()
	a := status.StatusInfo{Status: status.Waiting, Message: "x", Since: &now}
	b := status.StatusInfo{Status: status.Waiting, Message: "x"}
	c.Check(a.Equal(b), jc.IsTrue)
	b.Message = "y"
	c.Check(a.Equal(b), jc.IsFalse)

	b.Message = "x"
	b.WorkloadVersion = "1.0.1"
	c.Check(a.Equal(b), jc.IsFalse)
}
