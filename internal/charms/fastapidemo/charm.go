// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package fastapidemo is the FastAPI demo charm: it runs a small API server
// configured from its PostgreSQL relation.
package fastapidemo

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/charmruntime/internal/charm"
	"github.com/juju/charmruntime/internal/worker/reconciler"
	"github.com/juju/charmruntime/internal/workload"
)

var logger = loggo.GetLogger("charmruntime.charms.fastapidemo")

const (
	ContainerName    = "demo-server"
	ServiceName      = "fastapi-service"
	DatabaseRelation = "database"
	PeerRelation     = "fastapi-peer"
	PortOption       = "server-port"

	// DatabaseName is the database requested from PostgreSQL.
	DatabaseName = "names_db"

	statsKey = "unit_stats"
)

//go:embed metadata.yaml
var metadataYAML []byte

//go:embed config.yaml
var configYAML []byte

// Meta returns the charm metadata.
func Meta() (*charm.Meta, error) {
	return charm.ParseMeta(metadataYAML)
}

// Config returns the charm config options.
func Config() (*charm.Config, error) {
	return charm.ReadConfig(bytes.NewReader(configYAML))
}

// Charm computes the workload configuration of the demo server.
type Charm struct {
	versions *VersionClient
}

var (
	_ reconciler.Charm           = (*Charm)(nil)
	_ reconciler.Starter         = (*Charm)(nil)
	_ reconciler.VersionReporter = (*Charm)(nil)
)

// Option configures a Charm.
type Option func(*Charm)

// WithVersionClient makes the charm report the version the server
// answers with.
func WithVersionClient(v *VersionClient) Option {
	return func(c *Charm) {
		c.versions = v
	}
}

// New returns the demo charm.
func New(opts ...Option) *Charm {
	c := &Charm{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DesiredState is part of the reconciler.Charm interface.
func (c *Charm) DesiredState(snapshot reconciler.Snapshot) (map[string]workload.Config, error) {
	port, err := snapshot.Settings.Int(PortOption)
	if err != nil {
		return nil, errors.Annotate(err, "reading server port")
	}
	if port == 22 {
		return nil, workload.Blocked("Invalid port number, 22 is reserved for SSH")
	}

	container, ok := snapshot.Meta.Containers[ContainerName]
	if !ok {
		return nil, errors.NotFoundf("container %q", ContainerName)
	}
	binding, ok := snapshot.Binding(container.Resource)
	if !ok || binding.Location == "" {
		return nil, errors.NotFoundf("bound resource %q", container.Resource)
	}

	db, err := DatabaseInfo(snapshot)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}

	config := workload.Config{
		Image:   binding.Location,
		Service: ServiceName,
		Command: strings.Join([]string{
			"uvicorn",
			"api_demo_server.app:app",
			"--host=0.0.0.0",
			fmt.Sprintf("--port=%d", port),
		}, " "),
		Environment: db.Environment(),
		Ports:       []workload.Port{{ContainerPort: port, Protocol: "TCP"}},
	}
	return map[string]workload.Config{ContainerName: config}, nil
}

// Start is part of the reconciler.Starter interface. It counts the start in
// the local settings of every live peer relation, and defers it while there
// is no peer to count it on.
func (c *Charm) Start(_ context.Context, snapshot reconciler.Snapshot, data reconciler.RelationData) (bool, error) {
	counted := false
	for _, inst := range snapshot.Relations {
		if inst.Endpoint != PeerRelation || !inst.State.Live() {
			continue
		}
		if err := countStart(inst.ID, data); err != nil {
			return false, errors.Annotatef(err, "peer relation %d", inst.ID)
		}
		counted = true
	}
	return counted, nil
}

type unitStats struct {
	StartedCounter int `json:"started_counter"`
}

func countStart(id int, data reconciler.RelationData) error {
	local, err := data.LocalData(id)
	if err != nil {
		return errors.Trace(err)
	}
	var stats unitStats
	if raw := local[statsKey]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			return errors.Annotatef(err, "parsing %s", statsKey)
		}
	}
	stats.StartedCounter++
	out, err := json.Marshal(stats)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("started %d times", stats.StartedCounter)
	return data.SetData(id, statsKey, string(out))
}

// StartCount returns the start counter recorded in the local settings of a
// peer relation.
func StartCount(local map[string]string) (int, error) {
	raw := local[statsKey]
	if raw == "" {
		return 0, nil
	}
	var stats unitStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return 0, errors.Annotatef(err, "parsing %s", statsKey)
	}
	return stats.StartedCounter, nil
}
