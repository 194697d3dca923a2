// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fastapidemo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/juju/charmruntime/internal/worker/reconciler"
)

// DefaultVersionTimeout bounds a single version request.
const DefaultVersionTimeout = 10 * time.Second

// VersionClient asks the demo server which version it runs. The port is
// the one the charm configures the server with.
type VersionClient struct {
	host   string
	client *http.Client
}

// NewVersionClient returns a VersionClient for the server reachable on
// host.
func NewVersionClient(host string, timeout time.Duration) *VersionClient {
	if timeout <= 0 {
		timeout = DefaultVersionTimeout
	}
	return &VersionClient{
		host:   host,
		client: &http.Client{Timeout: timeout},
	}
}

// Version returns the version reported by GET /version.
func (v *VersionClient) Version(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("http://%s/version", net.JoinHostPort(v.host, strconv.Itoa(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("GET %s: %s", url, resp.Status)
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Annotatef(err, "decoding response from %s", url)
	}
	return body.Version, nil
}

// WorkloadVersion is part of the reconciler.VersionReporter interface.
func (c *Charm) WorkloadVersion(ctx context.Context, snapshot reconciler.Snapshot) (string, error) {
	if c.versions == nil {
		return "", nil
	}
	port, err := snapshot.Settings.Int(PortOption)
	if err != nil {
		return "", errors.Annotate(err, "reading server port")
	}
	version, err := c.versions.Version(ctx, port)
	return version, errors.Trace(err)
}
