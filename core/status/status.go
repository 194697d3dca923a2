// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"context"
	"fmt"
	"time"
)

// Status is the externally visible workload status of a charm.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Unknown is set when:
	// The runtime has not completed a reconciliation pass yet.
	Unknown Status = "unknown"

	// Maintenance is set when:
	// The workload is not yet providing services, but the runtime is actively
	// doing stuff in preparation for providing those services.
	Maintenance Status = "maintenance"

	// Waiting is set when:
	// The workload is unable to progress to an active state because a resource
	// is still being resolved or a related unit is still joining.
	Waiting Status = "waiting"

	// Blocked is set when:
	// The workload needs manual intervention to get back to the Running state,
	// eg. a required relation is missing or a resource cannot be resolved.
	Blocked Status = "blocked"

	// Error means the last reconciliation pass failed and the previously
	// applied configuration remains in place.
	Error Status = "error"

	// Active is set when:
	// The workload is configured with every declared resource and relation.
	Active Status = "active"
)

const (
	MessageWaitingForResources = "waiting for resources"
	MessageWaitingForRelations = "waiting for relations"
)

// KnownWorkloadStatus returns true if status has a known value for a
// workload.
func (s Status) KnownWorkloadStatus() bool {
	switch s {
	case
		Unknown,
		Maintenance,
		Waiting,
		Blocked,
		Error,
		Active:
		return true
	}
	return false
}

// StatusInfo holds a Status and associated information.
type StatusInfo struct {
	Status  Status
	Message string
	Since   *time.Time
	// WorkloadVersion is the version the workload reports of itself, if
	// known.
	WorkloadVersion string
}

// String returns a human readable form of the status, eg. "blocked: missing
// database relation".
func (info StatusInfo) String() string {
	if info.Message == "" {
		return info.Status.String()
	}
	return fmt.Sprintf("%s: %s", info.Status, info.Message)
}

// Equal reports whether both infos carry the same status, message and
// workload version, ignoring the time they were recorded.
func (info StatusInfo) Equal(other StatusInfo) bool {
	return info.Status == other.Status &&
		info.Message == other.Message &&
		info.WorkloadVersion == other.WorkloadVersion
}

// Setter represents a type whose status can be set.
type Setter interface {
	SetStatus(context.Context, StatusInfo) error
}

// Getter represents a type whose status can be read.
type Getter interface {
	CurrentStatus() StatusInfo
}
