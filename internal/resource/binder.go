// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resource

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	coreresource "github.com/juju/charmruntime/core/resource"
	"github.com/juju/charmruntime/internal/charm"
)

var logger = loggo.GetLogger("charmruntime.resource")

// ResolveRequest asks the orchestrator for the concrete location of a
// resource.
type ResolveRequest struct {
	Resource charm.Resource
	// Reference is the operator attached reference if there is one, and
	// the upstream source of the resource otherwise.
	Reference string
}

// Resolver resolves declared resources into locations the orchestrator can
// use, eg. a fully qualified image reference.
type Resolver interface {
	ResolveResource(ctx context.Context, req ResolveRequest) (string, error)
}

// Binding is a point in time copy of the binding of one resource.
type Binding struct {
	Name     string
	Type     coreresource.Type
	State    coreresource.BindingState
	Location string
	Failure  coreresource.FailureKind
	Cause    error
	// Attempts counts resolutions started since the last success.
	Attempts int
}

// BinderConfig holds the dependencies of a Binder.
type BinderConfig struct {
	Resources map[string]charm.Resource
	Resolver  Resolver
	// Limiter bounds concurrent resolutions. Optional.
	Limiter ResolveLock
	// Notify is called, without any lock held, every time a binding
	// changes state. Optional.
	Notify func(name string)
}

// Validate returns an error if the config cannot be used to create a
// Binder.
func (config BinderConfig) Validate() error {
	if config.Resolver == nil {
		return errors.NotValidf("nil Resolver")
	}
	return nil
}

// Binder tracks the binding of every declared resource and drives it through
// unbound, pending, bound or failed.
type Binder struct {
	resolver Resolver
	limiter  ResolveLock
	notify   func(string)

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	spec     charm.Resource
	attached string
	binding  Binding
	inflight uint64
}

func (e *entry) reference() string {
	if e.attached != "" {
		return e.attached
	}
	return e.spec.UpstreamSource
}

// NewBinder returns a Binder with an unbound binding for every resource in
// the config.
func NewBinder(config BinderConfig) (*Binder, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	b := &Binder{
		resolver: config.Resolver,
		limiter:  config.Limiter,
		notify:   config.Notify,
		entries:  make(map[string]*entry),
	}
	if b.limiter == nil {
		b.limiter = noopResolveLock{}
	}
	if b.notify == nil {
		b.notify = func(string) {}
	}
	for name, spec := range config.Resources {
		b.entries[name] = newEntry(spec)
	}
	return b, nil
}

func newEntry(spec charm.Resource) *entry {
	return &entry{
		spec: spec,
		binding: Binding{
			Name:  spec.Name,
			Type:  spec.Type,
			State: coreresource.Unbound,
		},
	}
}

// Bind resolves an unbound resource. Binding a resource in any other state
// returns its current binding without contacting the orchestrator.
func (b *Binder) Bind(ctx context.Context, name string) (Binding, error) {
	b.mu.Lock()
	e, ok := b.entries[name]
	if !ok {
		b.mu.Unlock()
		return Binding{}, errors.NotFoundf("resource %q", name)
	}
	if e.binding.State != coreresource.Unbound {
		binding := e.binding
		b.mu.Unlock()
		return binding, bindingErr(binding)
	}
	return b.resolve(ctx, name, e)
}

// Rebind re-attempts the resolution of a failed or pending resource. A
// bound resource is left alone; an unbound one must be bound first.
func (b *Binder) Rebind(ctx context.Context, name string) (Binding, error) {
	b.mu.Lock()
	e, ok := b.entries[name]
	if !ok {
		b.mu.Unlock()
		return Binding{}, errors.NotFoundf("resource %q", name)
	}
	switch e.binding.State {
	case coreresource.Bound:
		binding := e.binding
		b.mu.Unlock()
		return binding, nil
	case coreresource.Unbound:
		b.mu.Unlock()
		return Binding{}, errors.NotValidf("rebinding unbound resource %q", name)
	}
	return b.resolve(ctx, name, e)
}

// resolve must be called with b.mu held; it releases it.
func (b *Binder) resolve(ctx context.Context, name string, e *entry) (Binding, error) {
	e.inflight++
	ticket := e.inflight
	e.binding.State = coreresource.Pending
	e.binding.Attempts++
	req := ResolveRequest{
		Resource:  e.spec,
		Reference: e.reference(),
	}
	b.mu.Unlock()
	b.notify(name)

	logger.Debugf("resolving resource %q from %q", name, req.Reference)
	location, err := b.resolveLimited(ctx, req)

	b.mu.Lock()
	if current, ok := b.entries[name]; !ok || current != e || ticket != e.inflight {
		// The resource was removed, or a newer resolution was started,
		// while the orchestrator was busy. Drop the result.
		b.mu.Unlock()
		logger.Debugf("discarding stale resolution of resource %q", name)
		return Binding{}, errors.Annotatef(BindingAbandoned, "resource %q", name)
	}
	if err != nil {
		e.binding.State = coreresource.Failed
		e.binding.Location = ""
		e.binding.Failure = classify(err)
		e.binding.Cause = err
	} else {
		e.binding.State = coreresource.Bound
		e.binding.Location = location
		e.binding.Failure = coreresource.FailureNone
		e.binding.Cause = nil
		e.binding.Attempts = 0
	}
	binding := e.binding
	b.mu.Unlock()

	if err != nil {
		logger.Warningf("resource %q failed to bind (%s): %v", name, binding.Failure, err)
	} else {
		logger.Infof("resource %q bound to %q", name, location)
	}
	b.notify(name)
	return binding, bindingErr(binding)
}

func (b *Binder) resolveLimited(ctx context.Context, req ResolveRequest) (string, error) {
	kind := req.Resource.Type.String()
	if err := b.limiter.Acquire(ctx, kind); err != nil {
		return "", NewTransientError(err)
	}
	defer b.limiter.Release(kind)
	return b.resolver.ResolveResource(ctx, req)
}

func bindingErr(binding Binding) error {
	if binding.State != coreresource.Failed {
		return nil
	}
	return &bindingError{
		name:  binding.Name,
		kind:  binding.Failure,
		cause: binding.Cause,
	}
}

// Attach records an operator supplied reference for the resource, which
// takes precedence over its upstream source. A bound resource goes back to
// unbound so that it is resolved again from the new reference.
func (b *Binder) Attach(name, reference string) error {
	if reference == "" {
		return errors.NotValidf("empty reference for resource %q", name)
	}
	b.mu.Lock()
	e, ok := b.entries[name]
	if !ok {
		b.mu.Unlock()
		return errors.NotFoundf("resource %q", name)
	}
	e.attached = reference
	reset := e.binding.State == coreresource.Bound
	if reset {
		e.binding = newEntry(e.spec).binding
	}
	b.mu.Unlock()

	if reset {
		b.notify(name)
	}
	return nil
}

// Remove forgets the binding of a resource. Any resolution in flight for it
// is abandoned and its outcome discarded.
func (b *Binder) Remove(name string) {
	b.mu.Lock()
	_, ok := b.entries[name]
	delete(b.entries, name)
	b.mu.Unlock()
	if ok {
		b.notify(name)
	}
}

// Sync makes the tracked resources match the given set: new resources are
// added unbound, resources no longer declared are removed, and resources
// whose declaration changed start again from unbound.
func (b *Binder) Sync(resources map[string]charm.Resource) {
	changed := set.NewStrings()
	b.mu.Lock()
	for name := range b.entries {
		if _, ok := resources[name]; !ok {
			delete(b.entries, name)
			changed.Add(name)
		}
	}
	for name, spec := range resources {
		e, ok := b.entries[name]
		if ok && e.spec == spec {
			continue
		}
		b.entries[name] = newEntry(spec)
		changed.Add(name)
	}
	b.mu.Unlock()

	for _, name := range changed.SortedValues() {
		b.notify(name)
	}
}

// Binding returns the current binding of the named resource.
func (b *Binder) Binding(name string) (Binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[name]
	if !ok {
		return Binding{}, errors.NotFoundf("resource %q", name)
	}
	return e.binding, nil
}

// Snapshot returns a copy of every binding, sorted by resource name.
func (b *Binder) Snapshot() []Binding {
	b.mu.Lock()
	result := make([]Binding, 0, len(b.entries))
	for _, e := range b.entries {
		result = append(result, e.binding)
	}
	b.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
