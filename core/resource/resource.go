// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package resource holds the vocabulary shared by everything that deals with
// charm resources: their kinds and the states of their bindings.
package resource

import (
	"github.com/juju/errors"
)

// Type identifies the kind of artifact a resource refers to.
type Type string

const (
	TypeOCIImage Type = "oci-image"
	TypeFile     Type = "file"
)

// ParseType converts the metadata form of a resource type into a Type.
func ParseType(value string) (Type, error) {
	switch t := Type(value); t {
	case TypeOCIImage, TypeFile:
		return t, nil
	}
	return "", errors.NotValidf("resource type %q", value)
}

// String returns the metadata form of the type.
func (t Type) String() string {
	return string(t)
}

// BindingState describes how far a resource is from being usable by the
// workload.
type BindingState string

const (
	Unbound BindingState = "unbound"
	Pending BindingState = "pending"
	Bound   BindingState = "bound"
	Failed  BindingState = "failed"
)

// FailureKind tells whether a failed binding may succeed if retried.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)
