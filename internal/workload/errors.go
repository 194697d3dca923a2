// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import "github.com/juju/errors"

// ErrBlocked is matched by errors raised when the charm cannot produce a
// workload configuration until an operator intervenes.
const ErrBlocked = errors.ConstError("workload blocked")

type blockedError struct {
	reason string
}

// Error implements error.
func (e *blockedError) Error() string {
	return e.reason
}

// Is allows blockedError to match ErrBlocked.
func (e *blockedError) Is(target error) bool {
	return target == ErrBlocked
}

// Blocked returns an error reporting that the workload is blocked for the
// given, human readable, reason.
func Blocked(reason string) error {
	return &blockedError{reason: reason}
}

// BlockedReason returns the reason given to Blocked for err, and whether err
// is a blocked error at all.
func BlockedReason(err error) (string, bool) {
	var be *blockedError
	if errors.As(err, &be) {
		return be.reason, true
	}
	return "", false
}
