// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/names/v5"
	"github.com/kr/pretty"

	corerelation "github.com/juju/charmruntime/core/relation"
	"github.com/juju/charmruntime/internal/charm"
)

var logger = loggo.GetLogger("charmruntime.relation")

// Instance is a point in time copy of one remote unit's participation in a
// relation endpoint.
type Instance struct {
	ID         int
	Endpoint   string
	Role       corerelation.Role
	Interface  string
	RemoteUnit string
	State      corerelation.State

	// Local holds the settings written by this unit, Remote those written
	// by the remote unit.
	Local  map[string]string
	Remote map[string]string
}

// JoinParams describes a remote unit entering a relation.
type JoinParams struct {
	RelationID      int
	Endpoint        string
	RemoteUnit      string
	RemoteInterface string
}

// Publisher makes the local settings of a relation visible to the remote
// unit.
type Publisher interface {
	PublishRelationData(ctx context.Context, id int, endpoint string, settings map[string]string) error
}

// NegotiatorConfig holds the dependencies of a Negotiator.
type NegotiatorConfig struct {
	Meta *charm.Meta
	// Application is the name of the local application. Peers must be
	// units of it. Defaults to the charm name.
	Application string
	Publisher   Publisher
	// Notify is called, without any lock held, whenever an instance is
	// created, changes state or receives remote settings. Optional.
	Notify func()
}

// Validate returns an error if the config cannot be used to create a
// Negotiator.
func (config NegotiatorConfig) Validate() error {
	if config.Meta == nil {
		return errors.NotValidf("nil Meta")
	}
	if config.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	if config.Application != "" && !names.IsValidApplication(config.Application) {
		return errors.NotValidf("application name %q", config.Application)
	}
	return nil
}

// Negotiator owns the relation instances of a unit: it accepts or rejects
// joins, tracks each instance through its lifecycle and holds the settings
// exchanged over it.
type Negotiator struct {
	meta        *charm.Meta
	application string
	publisher   Publisher
	notify      func()

	mu        sync.Mutex
	instances map[int]*instance
}

type instance struct {
	Instance
	// written counts local writes, published the write last published.
	written   uint64
	published uint64
	// departPending is set when the remote unit departs before the
	// instance has been joined.
	departPending bool
}

func (i *instance) copy() Instance {
	result := i.Instance
	result.Local = copySettings(i.Local)
	result.Remote = copySettings(i.Remote)
	return result
}

// NewNegotiator returns a Negotiator with no relation instances.
func NewNegotiator(config NegotiatorConfig) (*Negotiator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	n := &Negotiator{
		meta:        config.Meta,
		application: config.Application,
		publisher:   config.Publisher,
		notify:      config.Notify,
		instances:   make(map[int]*instance),
	}
	if n.application == "" {
		n.application = config.Meta.Name
	}
	if n.notify == nil {
		n.notify = func() {}
	}
	return n, nil
}

// OnJoin records a remote unit joining a relation endpoint. The new instance
// starts out joining; it becomes joined when the next reconciliation pass
// advances it.
func (n *Negotiator) OnJoin(params JoinParams) (Instance, error) {
	spec, ok := n.meta.Relation(params.Endpoint)
	if !ok {
		return Instance{}, errors.NotFoundf("relation endpoint %q", params.Endpoint)
	}
	if !names.IsValidUnit(params.RemoteUnit) {
		return Instance{}, errors.NotValidf("remote unit name %q", params.RemoteUnit)
	}
	if spec.Role == corerelation.RolePeer {
		app, _ := names.UnitApplication(params.RemoteUnit)
		if app != n.application {
			return Instance{}, errors.NotValidf("peer %q of application %q", params.RemoteUnit, n.application)
		}
	}
	if params.RemoteInterface != spec.Interface {
		return Instance{}, errors.Annotatef(InterfaceMismatch,
			"relation %q expects %q, remote unit %q offers %q",
			spec.Name, spec.Interface, params.RemoteUnit, params.RemoteInterface)
	}

	n.mu.Lock()
	if existing, ok := n.instances[params.RelationID]; ok {
		n.mu.Unlock()
		return Instance{}, errors.AlreadyExistsf("relation %d (%s)", params.RelationID, existing.State)
	}
	live := 0
	for _, inst := range n.instances {
		if inst.Endpoint != spec.Name || !inst.State.Live() {
			continue
		}
		if inst.RemoteUnit == params.RemoteUnit {
			n.mu.Unlock()
			return Instance{}, errors.AlreadyExistsf("unit %q on relation %q", params.RemoteUnit, spec.Name)
		}
		live++
	}
	if spec.Limit > 0 && live+1 > spec.Limit {
		n.mu.Unlock()
		return Instance{}, errors.Annotatef(LimitExceeded,
			"relation %q allows %d remote units", spec.Name, spec.Limit)
	}
	inst := &instance{
		Instance: Instance{
			ID:         params.RelationID,
			Endpoint:   spec.Name,
			Role:       spec.Role,
			Interface:  spec.Interface,
			RemoteUnit: params.RemoteUnit,
			State:      corerelation.Joining,
			Local:      make(map[string]string),
			Remote:     make(map[string]string),
		},
	}
	n.instances[params.RelationID] = inst
	result := inst.copy()
	n.mu.Unlock()

	logger.Infof("unit %q joining relation %q (id %d)", params.RemoteUnit, spec.Name, params.RelationID)
	n.notify()
	return result, nil
}

// OnDepart starts the departure of a relation instance. An instance still
// joining is marked, and departs once it has been joined. Departing an
// instance that is already on its way out does nothing.
func (n *Negotiator) OnDepart(id int) error {
	n.mu.Lock()
	inst, ok := n.instances[id]
	if !ok {
		n.mu.Unlock()
		return errors.NotFoundf("relation %d", id)
	}
	switch {
	case inst.departPending:
		n.mu.Unlock()
		return nil
	case inst.State == corerelation.Joining:
		inst.departPending = true
	case inst.State == corerelation.Joined:
		inst.State = corerelation.Departing
	default:
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	logger.Infof("unit %q departing relation %q (id %d)", inst.RemoteUnit, inst.Endpoint, id)
	n.notify()
	return nil
}

// OnRemoteChanged applies settings written by the remote unit. An empty
// value removes the key.
func (n *Negotiator) OnRemoteChanged(id int, settings map[string]string) error {
	n.mu.Lock()
	inst, err := n.liveInstance(id)
	if err != nil {
		n.mu.Unlock()
		return errors.Trace(err)
	}
	for key, value := range settings {
		if value == "" {
			delete(inst.Remote, key)
		} else {
			inst.Remote[key] = value
		}
	}
	n.mu.Unlock()

	n.notify()
	return nil
}

// SetData writes a local setting on the relation. It becomes visible to
// the remote unit on the next Flush. An empty value removes the key.
func (n *Negotiator) SetData(id int, key, value string) error {
	if key == "" {
		return errors.NotValidf("empty key")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	inst, err := n.liveInstance(id)
	if err != nil {
		return errors.Trace(err)
	}
	if current, ok := inst.Local[key]; ok && current == value {
		return nil
	}
	if value == "" {
		if _, ok := inst.Local[key]; !ok {
			return nil
		}
		delete(inst.Local, key)
	} else {
		inst.Local[key] = value
	}
	inst.written++
	return nil
}

// GetData returns a setting written by the remote unit.
func (n *Negotiator) GetData(id int, key string) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inst, ok := n.instances[id]
	if !ok {
		return "", false, errors.NotFoundf("relation %d", id)
	}
	value, ok := inst.Remote[key]
	return value, ok, nil
}

// LocalData returns a copy of the settings written by this unit.
func (n *Negotiator) LocalData(id int) (map[string]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inst, ok := n.instances[id]
	if !ok {
		return nil, errors.NotFoundf("relation %d", id)
	}
	return copySettings(inst.Local), nil
}

// liveInstance must be called with n.mu held.
func (n *Negotiator) liveInstance(id int) (*instance, error) {
	inst, ok := n.instances[id]
	if !ok {
		return nil, errors.NotFoundf("relation %d", id)
	}
	if !inst.State.Live() {
		return nil, errors.NotValidf("writing to departed relation %d", id)
	}
	return inst, nil
}

// Advance moves every instance in transition one state forward: joining
// to joined, joined to departing when a departure is pending, and
// departing to departed. It reports whether anything changed. When an
// instance still has a step to take, the notify callback is called so
// that another pass follows.
func (n *Negotiator) Advance() bool {
	n.mu.Lock()
	changed, more := false, false
	for _, inst := range n.instances {
		switch {
		case inst.State == corerelation.Joining,
			inst.State == corerelation.Departing,
			inst.State == corerelation.Joined && inst.departPending:
		default:
			continue
		}
		next, _ := inst.State.Next()
		logger.Debugf("relation %d (%s) %s -> %s", inst.ID, inst.Endpoint, inst.State, next)
		if inst.State == corerelation.Joined {
			inst.departPending = false
		}
		inst.State = next
		changed = true
		if inst.departPending || next == corerelation.Departing {
			more = true
		}
	}
	n.mu.Unlock()

	if more {
		n.notify()
	}
	return changed
}

// Snapshot returns a copy of every instance, ordered by relation id.
func (n *Negotiator) Snapshot() []Instance {
	n.mu.Lock()
	result := make([]Instance, 0, len(n.instances))
	for _, inst := range n.instances {
		result = append(result, inst.copy())
	}
	n.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if logger.IsTraceEnabled() {
		logger.Tracef("relation snapshot: %# v", pretty.Formatter(result))
	}
	return result
}

// Prune forgets the given instances if they have departed. Their settings
// go with them.
func (n *Negotiator) Prune(ids []int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		if inst, ok := n.instances[id]; ok && inst.State == corerelation.Departed {
			logger.Debugf("pruning relation %d (%s)", id, inst.Endpoint)
			delete(n.instances, id)
		}
	}
}

// Flush publishes the local settings of every live instance written since
// the last successful publish. It attempts every instance and returns the
// first error.
func (n *Negotiator) Flush(ctx context.Context) error {
	type pending struct {
		id       int
		endpoint string
		written  uint64
		settings map[string]string
	}
	var todo []pending
	n.mu.Lock()
	for _, inst := range n.instances {
		if inst.State.Live() && inst.written != inst.published {
			todo = append(todo, pending{
				id:       inst.ID,
				endpoint: inst.Endpoint,
				written:  inst.written,
				settings: copySettings(inst.Local),
			})
		}
	}
	n.mu.Unlock()
	sort.Slice(todo, func(i, j int) bool { return todo[i].id < todo[j].id })

	var firstErr error
	for _, p := range todo {
		if err := n.publisher.PublishRelationData(ctx, p.id, p.endpoint, p.settings); err != nil {
			logger.Warningf("publishing settings for relation %d: %v", p.id, err)
			if firstErr == nil {
				firstErr = errors.Annotatef(err, "publishing settings for relation %d", p.id)
			}
			continue
		}
		n.mu.Lock()
		if inst, ok := n.instances[p.id]; ok && inst.published < p.written {
			inst.published = p.written
		}
		n.mu.Unlock()
	}
	return firstErr
}

func copySettings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
