// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package kubernetes is the orchestrator the charm runtime drives: it
// resolves resources, applies workload configuration to the application
// StatefulSet, publishes relation data and records status.
package kubernetes

import (
	"net"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/names/v5"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/kubernetes"

	"github.com/juju/charmruntime/internal/resource"
)

var logger = loggo.GetLogger("charmruntime.provider.kubernetes")

// Config holds what a Provider needs to reach the cluster.
type Config struct {
	Client    kubernetes.Interface
	Namespace string
	// Application names the StatefulSet running the workload.
	Application string
	// ResourceDir holds file resources, one directory per resource.
	ResourceDir string
}

// Validate returns an error if the config cannot be used to create a
// Provider.
func (config Config) Validate() error {
	if config.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if config.Namespace == "" {
		return errors.NotValidf("empty Namespace")
	}
	if !names.IsValidApplication(config.Application) {
		return errors.NotValidf("application name %q", config.Application)
	}
	return nil
}

// Provider talks to the Kubernetes API on behalf of one application.
type Provider struct {
	client      kubernetes.Interface
	namespace   string
	application string
	resourceDir string
}

// NewProvider returns a Provider for the configured application.
func NewProvider(config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Provider{
		client:      config.Client,
		namespace:   config.Namespace,
		application: config.Application,
		resourceDir: config.ResourceDir,
	}, nil
}

// classifyAPIError marks API errors that may go away on their own as
// transient, as well as failures to reach the API server at all.
// Everything else is left to be treated as permanent.
func classifyAPIError(err error) error {
	var opErr *net.OpError
	switch {
	case err == nil:
		return nil
	case k8serrors.IsServerTimeout(err),
		k8serrors.IsTimeout(err),
		k8serrors.IsTooManyRequests(err),
		k8serrors.IsServiceUnavailable(err),
		k8serrors.IsInternalError(err),
		utilnet.IsConnectionRefused(err),
		utilnet.IsConnectionReset(err),
		utilnet.IsProbableEOF(err),
		errors.As(err, &opErr):
		return resource.NewTransientError(err)
	}
	return err
}
