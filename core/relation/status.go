// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

// State describes where a relation instance is in its lifecycle.
// Instances move strictly forward: joining, joined, departing, departed.
type State string

const (
	Joining   State = "joining"
	Joined    State = "joined"
	Departing State = "departing"
	Departed  State = "departed"
)

// Next returns the state that follows s, and false if s is terminal.
func (s State) Next() (State, bool) {
	switch s {
	case Joining:
		return Joined, true
	case Joined:
		return Departing, true
	case Departing:
		return Departed, true
	}
	return s, false
}

// Live returns true for every state but Departed.
func (s State) Live() bool {
	return s != Departed
}

// Role describes the part a charm plays in a relation.
type Role string

const (
	RoleRequirer Role = "requirer"
	RolePeer     Role = "peer"
)
