// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/kr/pretty"

	corerelation "github.com/juju/charmruntime/core/relation"
	coreresource "github.com/juju/charmruntime/core/resource"
	"github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/charm"
	"github.com/juju/charmruntime/internal/relation"
	"github.com/juju/charmruntime/internal/resource"
	"github.com/juju/charmruntime/internal/workload"
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...interface{})
	Warningf(message string, args ...interface{})
	Infof(message string, args ...interface{})
	Debugf(message string, args ...interface{})
	Tracef(message string, args ...interface{})
	IsTraceEnabled() bool
}

// RelationData gives write access to the local settings of relations.
type RelationData interface {
	SetData(id int, key, value string) error
	LocalData(id int) (map[string]string, error)
}

// Relations is the part of the relation negotiator driven by reconciliation.
type Relations interface {
	RelationData
	Advance() bool
	Snapshot() []relation.Instance
	Prune(ids []int)
	Flush(ctx context.Context) error
}

// Resources exposes the current resource bindings.
type Resources interface {
	Snapshot() []resource.Binding
}

// WorkloadApplier applies container configuration on the orchestrator.
type WorkloadApplier interface {
	ApplyWorkloadConfig(ctx context.Context, container string, config workload.Config) error
}

// Charm computes the desired workload configuration. It returns an error
// satisfying workload.ErrBlocked when the charm cannot proceed without
// operator intervention.
type Charm interface {
	DesiredState(snapshot Snapshot) (map[string]workload.Config, error)
}

// Starter is implemented by charms that do something once per unit start.
// Start is called on every pass until it reports that it has recorded the
// start.
type Starter interface {
	Start(ctx context.Context, snapshot Snapshot, data RelationData) (bool, error)
}

// VersionReporter is implemented by charms that can ask the workload which
// version it runs.
type VersionReporter interface {
	WorkloadVersion(ctx context.Context, snapshot Snapshot) (string, error)
}

// Snapshot is the state observed at the start of a pass. It is never
// modified and never outlives the pass.
type Snapshot struct {
	Meta      *charm.Meta
	Settings  charm.Settings
	Relations []relation.Instance
	Bindings  []resource.Binding
}

// Binding returns the binding of the named resource.
func (s Snapshot) Binding(name string) (resource.Binding, bool) {
	for _, b := range s.Bindings {
		if b.Name == name {
			return b, true
		}
	}
	return resource.Binding{}, false
}

// Instances returns the instances of the endpoint in the given state.
func (s Snapshot) Instances(endpoint string, state corerelation.State) []relation.Instance {
	var result []relation.Instance
	for _, inst := range s.Relations {
		if inst.Endpoint == endpoint && inst.State == state {
			result = append(result, inst)
		}
	}
	return result
}

// ActionKind distinguishes the actions a pass can emit.
type ActionKind string

const (
	// ActionApply applies changed configuration to a container.
	ActionApply ActionKind = "apply"
	// ActionWaitingForDependencies reports that the workload cannot be
	// configured yet.
	ActionWaitingForDependencies ActionKind = "waiting-for-dependencies"
)

// ConfigAction is one outcome of a reconciliation pass.
type ConfigAction struct {
	Kind      ActionKind
	Container string
	Config    workload.Config
	// Changed lists the configuration fields that differ from what was
	// previously applied.
	Changed []string
	Reason  string
}

// PassResult summarises a completed pass for an Observer.
type PassResult struct {
	Events   []Event
	Actions  []ConfigAction
	Err      error
	Duration time.Duration
}

// Observer is told about every completed pass.
type Observer interface {
	PassCompleted(PassResult)
}

// Outcome is the state left behind by the latest pass.
type Outcome struct {
	Passes int
	// Blocked holds the reason the charm gave for refusing to produce a
	// configuration.
	Blocked string
	// Err is the error the latest pass failed with.
	Err error
	// WorkloadVersion is the version last reported by the workload.
	WorkloadVersion string
}

// Config holds the dependencies of a Reconciler.
type Config struct {
	Meta      *charm.Meta
	Charm     Charm
	Relations Relations
	Resources Resources
	Applier   WorkloadApplier
	// Settings are the initial charm settings.
	Settings charm.Settings
	Observer Observer
	Clock    clock.Clock
	Logger   Logger
}

// Validate returns an error if the config cannot be used to create a
// Reconciler.
func (config Config) Validate() error {
	if config.Meta == nil {
		return errors.NotValidf("nil Meta")
	}
	if config.Charm == nil {
		return errors.NotValidf("nil Charm")
	}
	if config.Relations == nil {
		return errors.NotValidf("nil Relations")
	}
	if config.Resources == nil {
		return errors.NotValidf("nil Resources")
	}
	if config.Applier == nil {
		return errors.NotValidf("nil Applier")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Reconciler converges the workload towards the configuration the charm
// wants, given the current relations and resource bindings. Passes are
// strictly sequential.
type Reconciler struct {
	config Config

	mu      sync.Mutex
	started bool
	waiting string
	applied map[string]workload.Config

	settingsMu sync.Mutex
	settings   charm.Settings

	outcomeMu sync.Mutex
	outcome   Outcome
}

// New returns a Reconciler that has applied nothing yet.
func New(config Config) (*Reconciler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Reconciler{
		config:   config,
		applied:  make(map[string]workload.Config),
		settings: config.Settings,
	}, nil
}

// SetSettings replaces the charm settings seen by subsequent passes.
func (r *Reconciler) SetSettings(settings charm.Settings) {
	r.settingsMu.Lock()
	defer r.settingsMu.Unlock()
	r.settings = settings
}

// Settings returns the charm settings.
func (r *Reconciler) Settings() charm.Settings {
	r.settingsMu.Lock()
	defer r.settingsMu.Unlock()
	return r.settings
}

// Outcome returns the state left behind by the latest pass.
func (r *Reconciler) Outcome() Outcome {
	r.outcomeMu.Lock()
	defer r.outcomeMu.Unlock()
	return r.outcome
}

// Applied returns the configuration last applied to the container.
func (r *Reconciler) Applied(container string) (workload.Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	config, ok := r.applied[container]
	return config, ok
}

// Snapshot returns the current state without running a pass.
func (r *Reconciler) Snapshot() Snapshot {
	return Snapshot{
		Meta:      r.config.Meta,
		Settings:  r.Settings(),
		Relations: r.config.Relations.Snapshot(),
		Bindings:  r.config.Resources.Snapshot(),
	}
}

// Reconcile runs one pass for the given batch of events and returns the
// actions it took. A failed pass returns an error satisfying
// ErrReconciliation; nothing it failed to apply is recorded as applied.
func (r *Reconciler) Reconcile(ctx context.Context, events []Event) ([]ConfigAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.config.Clock.Now()
	if r.config.Relations.Advance() {
		r.config.Logger.Debugf("relation states advanced")
	}
	snapshot := r.Snapshot()
	if r.config.Logger.IsTraceEnabled() {
		r.config.Logger.Tracef("reconciling %v with snapshot %# v", events, pretty.Formatter(snapshot))
	}

	if !r.started {
		r.started = r.start(ctx, snapshot)
	}

	actions, blocked, err := r.plan(ctx, snapshot)
	version, probed := "", false
	if err == nil && blocked == "" && r.waiting == "" && len(r.applied) > 0 {
		version, probed = r.workloadVersion(ctx, snapshot), true
	}

	if ferr := r.config.Relations.Flush(ctx); ferr != nil {
		r.config.Logger.Warningf("relation settings not published: %v", ferr)
	}
	departed := set.NewInts()
	for _, inst := range snapshot.Relations {
		if inst.State == corerelation.Departed {
			departed.Add(inst.ID)
		}
	}
	r.config.Relations.Prune(departed.SortedValues())

	r.outcomeMu.Lock()
	r.outcome.Passes++
	r.outcome.Blocked = blocked
	r.outcome.Err = err
	if probed {
		r.outcome.WorkloadVersion = version
	}
	passes := r.outcome.Passes
	r.outcomeMu.Unlock()

	if err != nil {
		r.config.Logger.Errorf("pass %d: %v", passes, err)
	} else {
		r.config.Logger.Debugf("pass %d for %v: %d actions", passes, events, len(actions))
	}
	if r.config.Observer != nil {
		r.config.Observer.PassCompleted(PassResult{
			Events:   events,
			Actions:  actions,
			Err:      err,
			Duration: r.config.Clock.Now().Sub(start),
		})
	}
	return actions, err
}

// start must be called with r.mu held. A failed start is not retried.
func (r *Reconciler) start(ctx context.Context, snapshot Snapshot) bool {
	starter, ok := r.config.Charm.(Starter)
	if !ok {
		return true
	}
	done, err := starter.Start(ctx, snapshot, r.config.Relations)
	if err != nil {
		r.config.Logger.Warningf("charm start: %v", err)
		return true
	}
	if !done {
		r.config.Logger.Debugf("charm start deferred")
	}
	return done
}

// workloadVersion returns "" when the charm cannot tell, or the workload
// does not answer.
func (r *Reconciler) workloadVersion(ctx context.Context, snapshot Snapshot) string {
	reporter, ok := r.config.Charm.(VersionReporter)
	if !ok {
		return ""
	}
	version, err := reporter.WorkloadVersion(ctx, snapshot)
	if err != nil {
		r.config.Logger.Warningf("unable to get workload version: %v", err)
		return ""
	}
	return version
}

// plan must be called with r.mu held.
func (r *Reconciler) plan(ctx context.Context, snapshot Snapshot) ([]ConfigAction, string, error) {
	if reason := waitingReason(snapshot); reason != "" {
		if reason == r.waiting {
			return nil, "", nil
		}
		r.waiting = reason
		r.config.Logger.Infof("%s", reason)
		return []ConfigAction{{
			Kind:   ActionWaitingForDependencies,
			Reason: reason,
		}}, "", nil
	}
	r.waiting = ""

	desired, err := r.config.Charm.DesiredState(snapshot)
	if reason, ok := workload.BlockedReason(err); ok {
		r.config.Logger.Warningf("charm blocked: %s", reason)
		return nil, reason, nil
	} else if err != nil {
		return nil, "", &ReconciliationError{Cause: errors.Annotate(err, "computing desired state")}
	}

	containers := set.NewStrings()
	for name, config := range desired {
		if _, ok := r.config.Meta.Containers[name]; !ok {
			return nil, "", &ReconciliationError{
				Failed: []string{name},
				Cause:  errors.NotValidf("undeclared container %q", name),
			}
		}
		if err := config.Validate(); err != nil {
			return nil, "", &ReconciliationError{Failed: []string{name}, Cause: err}
		}
		containers.Add(name)
	}

	var actions []ConfigAction
	for _, name := range containers.SortedValues() {
		config := desired[name]
		changed := workload.Diff(r.applied[name], config)
		if len(changed) == 0 {
			continue
		}
		if err := r.config.Applier.ApplyWorkloadConfig(ctx, name, config); err != nil {
			r.rollback(ctx, actions)
			return nil, "", &ReconciliationError{
				Failed: []string{name},
				Cause:  errors.Annotatef(err, "applying %q", name),
			}
		}
		actions = append(actions, ConfigAction{
			Kind:      ActionApply,
			Container: name,
			Config:    config,
			Changed:   changed,
		})
	}
	for _, action := range actions {
		r.config.Logger.Infof("applied %v of container %q", action.Changed, action.Container)
		r.applied[action.Container] = copyConfig(action.Config)
	}
	return actions, "", nil
}

// rollback restores the previously applied configuration of containers
// changed earlier in a failed pass. A container that had none keeps what
// was applied and is left to the next pass. rollback must be called with
// r.mu held.
func (r *Reconciler) rollback(ctx context.Context, actions []ConfigAction) {
	for i := len(actions) - 1; i >= 0; i-- {
		name := actions[i].Container
		previous, ok := r.applied[name]
		if !ok {
			r.config.Logger.Warningf("container %q has no previous configuration to restore", name)
			continue
		}
		if err := r.config.Applier.ApplyWorkloadConfig(ctx, name, previous); err != nil {
			r.config.Logger.Errorf("restoring configuration of container %q: %v", name, err)
			delete(r.applied, name)
			continue
		}
		r.config.Logger.Infof("restored configuration of container %q", name)
	}
}

// waitingReason returns why the workload cannot be configured yet, or ""
// if every resource is bound and every required relation has a joined
// instance.
func waitingReason(snapshot Snapshot) string {
	var resources []string
	for _, b := range snapshot.Bindings {
		if b.State != coreresource.Bound {
			resources = append(resources, b.Name)
		}
	}
	var relations []string
	for _, spec := range snapshot.Meta.RequiredRelations() {
		if len(snapshot.Instances(spec.Name, corerelation.Joined)) == 0 {
			relations = append(relations, spec.Name)
		}
	}
	var reasons []string
	if len(resources) > 0 {
		reasons = append(reasons, status.MessageWaitingForResources+": "+strings.Join(resources, ", "))
	}
	if len(relations) > 0 {
		reasons = append(reasons, status.MessageWaitingForRelations+": "+strings.Join(relations, ", "))
	}
	return strings.Join(reasons, "; ")
}

func copyConfig(in workload.Config) workload.Config {
	out := in
	if in.Environment != nil {
		out.Environment = make(map[string]string, len(in.Environment))
		for k, v := range in.Environment {
			out.Environment[k] = v
		}
	}
	if in.Mounts != nil {
		out.Mounts = make(map[string]string, len(in.Mounts))
		for k, v := range in.Mounts {
			out.Mounts[k] = v
		}
	}
	out.Ports = append([]workload.Port(nil), in.Ports...)
	return out
}
