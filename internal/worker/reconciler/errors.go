// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"fmt"

	"github.com/juju/errors"
)

// ErrReconciliation is matched by every error returned from a failed pass.
const ErrReconciliation = errors.ConstError("reconciliation failed")

// ReconciliationError describes why a pass failed. Containers listed in
// Failed kept their previously applied configuration.
type ReconciliationError struct {
	Failed []string
	Cause  error
}

// Error implements error.
func (e *ReconciliationError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("reconciliation failed: %v", e.Cause)
	}
	return fmt.Sprintf("reconciliation failed for %v: %v", e.Failed, e.Cause)
}

// Unwrap returns the cause.
func (e *ReconciliationError) Unwrap() error {
	return e.Cause
}

// Is allows ReconciliationError to match ErrReconciliation.
func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliation
}
