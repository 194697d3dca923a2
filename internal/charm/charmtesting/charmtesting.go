// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charmtesting holds charm declarations shared by tests.
package charmtesting

import (
	"strings"

	"github.com/juju/charmruntime/internal/charm"
)

// DemoMetadata declares the FastAPI demo charm: one OCI image resource run by
// the demo-server container, a database relation limited to one unit and a
// peer relation.
const DemoMetadata = `
name: demo-api-charm
display-name: FastAPI Demo
summary: A demo charm that operates a small Python FastAPI server.
description: |
  This charm demonstrates how to write a Kubernetes charm.
assumes:
  - k8s-api
peers:
  fastapi-peer:
    interface: fastapi_demo_peers
requires:
  database:
    interface: postgresql_client
    limit: 1
containers:
  demo-server:
    resource: demo-server-image
resources:
  demo-server-image:
    type: oci-image
    description: OCI image from GitHub Container Repository
    upstream-source: ghcr.io/canonical/api_demo_server:1.0.1
`

// DemoConfig declares the config options of the FastAPI demo charm.
const DemoConfig = `
options:
  server-port:
    default: 8000
    description: Default port on which FastAPI is available
    type: int
`

// DemoMeta returns the parsed DemoMetadata. It panics if the metadata does
// not parse.
func DemoMeta() *charm.Meta {
	meta, err := charm.ParseMeta([]byte(DemoMetadata))
	if err != nil {
		panic(err)
	}
	return meta
}

// DemoCharmConfig returns the parsed DemoConfig.
func DemoCharmConfig() *charm.Config {
	config, err := charm.ReadConfig(strings.NewReader(DemoConfig))
	if err != nil {
		panic(err)
	}
	return config
}
