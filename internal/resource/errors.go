// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resource

import (
	"context"
	"fmt"
	"net"

	"github.com/juju/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"

	coreresource "github.com/juju/charmruntime/core/resource"
)

const (
	// BindingFailed is matched by every error returned for a resource that
	// could not be resolved.
	BindingFailed = errors.ConstError("resource binding failed")

	// TransientFailure marks resolution errors that may succeed if retried.
	TransientFailure = errors.ConstError("transient failure")

	// BindingAbandoned is returned when the resource was removed while its
	// resolution was in flight.
	BindingAbandoned = errors.ConstError("resource binding abandoned")
)

// NewTransientError wraps cause so that it is classified as a transient
// resolution failure.
func NewTransientError(cause error) error {
	return &transientError{cause: cause}
}

type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return e.cause.Error()
}

func (e *transientError) Unwrap() error {
	return e.cause
}

func (e *transientError) Is(target error) bool {
	return target == TransientFailure
}

// bindingError records why a resource failed to bind.
type bindingError struct {
	name  string
	kind  coreresource.FailureKind
	cause error
}

func (e *bindingError) Error() string {
	return fmt.Sprintf("binding resource %q (%s): %v", e.name, e.kind, e.cause)
}

func (e *bindingError) Unwrap() error {
	return e.cause
}

func (e *bindingError) Is(target error) bool {
	return target == BindingFailed
}

// IsTransient returns true if err is a binding failure that may succeed
// if retried.
func IsTransient(err error) bool {
	var be *bindingError
	if errors.As(err, &be) {
		return be.kind == coreresource.FailureTransient
	}
	return classify(err) == coreresource.FailureTransient
}

// classify decides whether a resolution error is worth retrying. Errors are
// permanent unless they say otherwise. An interrupted resolution and a
// failure to reach the remote end are transient.
func classify(err error) coreresource.FailureKind {
	if errors.Is(err, TransientFailure) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		isNetworkError(err) {
		return coreresource.FailureTransient
	}
	return coreresource.FailurePermanent
}

func isNetworkError(err error) bool {
	if utilnet.IsConnectionRefused(err) ||
		utilnet.IsConnectionReset(err) ||
		utilnet.IsProbableEOF(err) {
		return true
	}
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
		netErr net.Error
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.As(err, &netErr):
		return netErr.Timeout()
	}
	return false
}
