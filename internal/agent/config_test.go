// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package agent_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/charmruntime/internal/agent"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) TestDefaults(c *gc.C) {
	cfg, err := agent.NewConfig(map[string]interface{}{
		"application": "demo-api-charm",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Application(), gc.Equals, "demo-api-charm")
	c.Check(cfg.Namespace(), gc.Equals, "default")
	c.Check(cfg.KubeConfig(), gc.Equals, "")
	c.Check(cfg.MetadataPath(), gc.Equals, "")
	c.Check(cfg.ResourceDir(), gc.Equals, agent.DefaultResourceDir)
	c.Check(cfg.ListenAddress(), gc.Equals, ":8080")
	c.Check(cfg.ResyncInterval(), gc.Equals, 5*time.Minute)
	c.Check(cfg.RetryDelay(), gc.Equals, 5*time.Second)
	c.Check(cfg.MaxRetryDelay(), gc.Equals, 5*time.Minute)
	c.Check(cfg.ResolveConcurrency(), gc.Equals, 2)
	c.Check(cfg.LoggingConfig(), gc.Equals, "<root>=INFO")
	c.Check(cfg.WorkloadHost(), gc.Equals, "")
}

func (s *configSuite) TestParseYAML(c *gc.C) {
	cfg, err := agent.ParseConfig([]byte(`
application: demo-api-charm
namespace: demo
metadata: /charm/metadata.yaml
resync-interval: 30s
resolve-concurrency: 4
logging-config: <root>=DEBUG
workload-host: localhost
`), agent.FormatYAML)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Namespace(), gc.Equals, "demo")
	c.Check(cfg.MetadataPath(), gc.Equals, "/charm/metadata.yaml")
	c.Check(cfg.ResyncInterval(), gc.Equals, 30*time.Second)
	c.Check(cfg.ResolveConcurrency(), gc.Equals, 4)
	c.Check(cfg.LoggingConfig(), gc.Equals, "<root>=DEBUG")
	c.Check(cfg.WorkloadHost(), gc.Equals, "localhost")
}

func (s *configSuite) TestParseTOML(c *gc.C) {
	cfg, err := agent.ParseConfig([]byte(`
application = "demo-api-charm"
listen-address = "127.0.0.1:9090"
retry-delay = "1s"
max-retry-delay = "1m"
resolve-concurrency = 3
`), agent.FormatTOML)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.ListenAddress(), gc.Equals, "127.0.0.1:9090")
	c.Check(cfg.RetryDelay(), gc.Equals, time.Second)
	c.Check(cfg.MaxRetryDelay(), gc.Equals, time.Minute)
	c.Check(cfg.ResolveConcurrency(), gc.Equals, 3)
}

func (s *configSuite) TestReadConfigPicksFormat(c *gc.C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "charmd.toml")
	err := os.WriteFile(path, []byte(`application = "demo-api-charm"`+"\n"), 0644)
	c.Assert(err, jc.ErrorIsNil)

	cfg, err := agent.ReadConfig(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Application(), gc.Equals, "demo-api-charm")

	c.Check(agent.FormatForPath("charmd.yaml"), gc.Equals, agent.FormatYAML)
	c.Check(agent.FormatForPath("CHARMD.TOML"), gc.Equals, agent.FormatTOML)

	_, err = agent.ReadConfig(filepath.Join(dir, "missing.yaml"))
	c.Check(err, gc.ErrorMatches, `reading agent config ".*missing.yaml": .*`)
}

func (s *configSuite) TestInvalid(c *gc.C) {
	for i, test := range []struct {
		attrs map[string]interface{}
		err   string
	}{{
		attrs: map[string]interface{}{},
		err:   `agent config: application: .*`,
	}, {
		attrs: map[string]interface{}{"application": "Demo"},
		err:   `application name "Demo" not valid`,
	}, {
		attrs: map[string]interface{}{"application": "demo", "unknown": "x"},
		err:   `agent config: .*unknown.*`,
	}, {
		attrs: map[string]interface{}{"application": "demo", "resync-interval": "soon"},
		err:   `resync-interval: time: invalid duration "soon"`,
	}, {
		attrs: map[string]interface{}{"application": "demo", "retry-delay": "-1s"},
		err:   `non-positive retry-delay "-1s" not valid`,
	}, {
		attrs: map[string]interface{}{"application": "demo", "retry-delay": "1m", "max-retry-delay": "10s"},
		err:   `max-retry-delay 10s shorter than retry-delay 1m0s not valid`,
	}, {
		attrs: map[string]interface{}{"application": "demo", "resolve-concurrency": 0},
		err:   `resolve-concurrency 0 not valid`,
	}, {
		attrs: map[string]interface{}{"application": "demo", "logging-config": "<root>=LOUD"},
		err:   `logging-config: .*`,
	}} {
		c.Logf("test %d", i)
		_, err := agent.NewConfig(test.attrs)
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *configSuite) TestMalformedDocument(c *gc.C) {
	_, err := agent.ParseConfig([]byte("application: [unterminated"), agent.FormatYAML)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = agent.ParseConfig([]byte("application = "), agent.FormatTOML)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}
