// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"github.com/juju/errors"
)

const (
	// MalformedDeclaration is returned when charm metadata is not valid YAML
	// or a field has the wrong shape.
	MalformedDeclaration = errors.ConstError("malformed charm declaration")

	// MissingRequiredField is returned when the charm name or the resource of
	// a container is absent.
	MissingRequiredField = errors.ConstError("missing required field")

	// DanglingResourceReference is returned when a container names a
	// resource that is not declared.
	DanglingResourceReference = errors.ConstError("dangling resource reference")
)
