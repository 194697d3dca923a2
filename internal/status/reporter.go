// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package status derives the single workload status a charm reports from
// the state of its relations, resources and latest reconciliation pass.
package status

import (
	"fmt"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"

	corerelation "github.com/juju/charmruntime/core/relation"
	coreresource "github.com/juju/charmruntime/core/resource"
	corestatus "github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/charm"
	"github.com/juju/charmruntime/internal/relation"
	"github.com/juju/charmruntime/internal/resource"
	"github.com/juju/charmruntime/internal/worker/reconciler"
)

// Relations exposes the current relation instances.
type Relations interface {
	Snapshot() []relation.Instance
}

// Resources exposes the current resource bindings.
type Resources interface {
	Snapshot() []resource.Binding
}

// Outcomes exposes the result of the latest reconciliation pass.
type Outcomes interface {
	Outcome() reconciler.Outcome
}

// ReporterConfig holds the dependencies of a Reporter.
type ReporterConfig struct {
	Meta      *charm.Meta
	Relations Relations
	Resources Resources
	Outcomes  Outcomes
	Clock     clock.Clock
}

// Validate returns an error if the config cannot be used to create a
// Reporter.
func (config ReporterConfig) Validate() error {
	if config.Meta == nil {
		return errors.NotValidf("nil Meta")
	}
	if config.Relations == nil {
		return errors.NotValidf("nil Relations")
	}
	if config.Resources == nil {
		return errors.NotValidf("nil Resources")
	}
	if config.Outcomes == nil {
		return errors.NotValidf("nil Outcomes")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Reporter computes the current status on demand. It holds no state of its
// own.
type Reporter struct {
	config ReporterConfig
}

var _ corestatus.Getter = (*Reporter)(nil)

// NewReporter returns a new Reporter.
func NewReporter(config ReporterConfig) (*Reporter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Reporter{config: config}, nil
}

// CurrentStatus is part of the status.Getter interface. Blocked takes
// precedence over waiting, waiting over error, and error over active.
func (r *Reporter) CurrentStatus() corestatus.StatusInfo {
	now := r.config.Clock.Now()
	outcome := r.config.Outcomes.Outcome()
	info := Derive(
		r.config.Meta,
		r.config.Relations.Snapshot(),
		r.config.Resources.Snapshot(),
		outcome,
	)
	info.Since = &now
	info.WorkloadVersion = outcome.WorkloadVersion
	return info
}

// Derive computes the status for the given state.
func Derive(
	meta *charm.Meta,
	instances []relation.Instance,
	bindings []resource.Binding,
	outcome reconciler.Outcome,
) corestatus.StatusInfo {
	var (
		blocked []string
		waiting []string
	)

	var missing, notJoined []string
	for _, spec := range meta.RequiredRelations() {
		live, joined := 0, 0
		for _, inst := range instances {
			if inst.Endpoint != spec.Name {
				continue
			}
			if inst.State.Live() {
				live++
			}
			if inst.State == corerelation.Joined {
				joined++
			}
		}
		switch {
		case live == 0:
			missing = append(missing, spec.Name)
		case joined == 0:
			notJoined = append(notJoined, spec.Name)
		}
	}
	if len(missing) > 0 {
		blocked = append(blocked, "missing relations: "+strings.Join(missing, ", "))
	}

	var pending []string
	for _, b := range bindings {
		switch b.State {
		case coreresource.Failed:
			if b.Failure == coreresource.FailureTransient {
				waiting = append(waiting, fmt.Sprintf("retrying resource %q: %v", b.Name, b.Cause))
			} else {
				blocked = append(blocked, fmt.Sprintf("resource %q failed: %v", b.Name, b.Cause))
			}
		case coreresource.Unbound, coreresource.Pending:
			pending = append(pending, b.Name)
		}
	}
	if outcome.Blocked != "" {
		blocked = append(blocked, outcome.Blocked)
	}
	if len(blocked) > 0 {
		return corestatus.StatusInfo{Status: corestatus.Blocked, Message: strings.Join(blocked, "; ")}
	}

	if len(pending) > 0 {
		waiting = append([]string{corestatus.MessageWaitingForResources + ": " + strings.Join(pending, ", ")}, waiting...)
	}
	if len(notJoined) > 0 {
		waiting = append(waiting, corestatus.MessageWaitingForRelations+": "+strings.Join(notJoined, ", "))
	}
	if len(waiting) > 0 {
		return corestatus.StatusInfo{Status: corestatus.Waiting, Message: strings.Join(waiting, "; ")}
	}

	if outcome.Err != nil {
		return corestatus.StatusInfo{Status: corestatus.Error, Message: outcome.Err.Error()}
	}
	return corestatus.StatusInfo{Status: corestatus.Active}
}
