// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import "github.com/juju/errors"

const (
	// InterfaceMismatch is returned when a remote unit joins an endpoint
	// using a different interface to the one the charm declares.
	InterfaceMismatch = errors.ConstError("interface mismatch")

	// LimitExceeded is returned when a join would take an endpoint past
	// its declared limit of remote units.
	LimitExceeded = errors.ConstError("relation limit exceeded")
)
