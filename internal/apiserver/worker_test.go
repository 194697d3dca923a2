// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver_test

import (
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/charmruntime/internal/apiserver"
)

type workerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) TestValidate(c *gc.C) {
	_, err := apiserver.NewWorker(apiserver.WorkerConfig{})
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, "nil Listener not valid")
}

func (s *workerSuite) TestServesUntilKilled(c *gc.C) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, jc.ErrorIsNil)

	w, err := apiserver.NewWorker(apiserver.WorkerConfig{
		Listener: listener,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "hello %s", r.URL.Path)
		}),
	})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	url := fmt.Sprintf("http://%s/status", listener.Addr())
	resp, err := http.Get(url)
	c.Assert(err, jc.ErrorIsNil)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(body), gc.Equals, "hello /status")

	workertest.CleanKill(c, w)

	_, err = http.Get(url)
	c.Check(err, gc.NotNil)
}
