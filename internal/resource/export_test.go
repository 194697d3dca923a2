// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resource

import (
	coreresource "github.com/juju/charmruntime/core/resource"
)

// Classify exposes failure classification to tests.
func Classify(err error) coreresource.FailureKind {
	return classify(err)
}

// TypeLockCount returns the number of per type locks currently held open.
func TypeLockCount(l ResolveLock) int {
	r := l.(*resolveLimiter)
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.typeLocks)
}
