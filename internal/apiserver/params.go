// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"time"

	"github.com/juju/charmruntime/internal/relation"
	"github.com/juju/charmruntime/internal/resource"
)

// JoinRequest is sent by a remote unit entering a relation.
type JoinRequest struct {
	Endpoint   string `json:"endpoint"`
	RemoteUnit string `json:"remote-unit"`
	Interface  string `json:"interface"`
}

// RelationInstance describes one relation instance.
type RelationInstance struct {
	ID         int               `json:"id"`
	Endpoint   string            `json:"endpoint"`
	Role       string            `json:"role"`
	Interface  string            `json:"interface"`
	RemoteUnit string            `json:"remote-unit"`
	State      string            `json:"state"`
	Local      map[string]string `json:"local,omitempty"`
	Remote     map[string]string `json:"remote,omitempty"`
}

func relationInstance(in relation.Instance) RelationInstance {
	return RelationInstance{
		ID:         in.ID,
		Endpoint:   in.Endpoint,
		Role:       string(in.Role),
		Interface:  in.Interface,
		RemoteUnit: in.RemoteUnit,
		State:      string(in.State),
		Local:      in.Local,
		Remote:     in.Remote,
	}
}

// StatusResult is the current workload status.
type StatusResult struct {
	Status          string     `json:"status"`
	Message         string     `json:"message,omitempty"`
	Since           *time.Time `json:"since,omitempty"`
	WorkloadVersion string     `json:"workload-version,omitempty"`
}

// AttachRequest supplies a new reference for a resource.
type AttachRequest struct {
	Reference string `json:"reference"`
}

// ResourceBinding describes the binding of one resource.
type ResourceBinding struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Location string `json:"location,omitempty"`
	Failure  string `json:"failure,omitempty"`
	Error    string `json:"error,omitempty"`
}

func resourceBinding(b resource.Binding) ResourceBinding {
	result := ResourceBinding{
		Name:     b.Name,
		Type:     b.Type.String(),
		State:    string(b.State),
		Location: b.Location,
		Failure:  string(b.Failure),
	}
	if b.Cause != nil {
		result.Error = b.Cause.Error()
	}
	return result
}

// ActionResult holds the results of an action run.
type ActionResult struct {
	Results map[string]interface{} `json:"results"`
}

// ErrorResult is returned with every failed request.
type ErrorResult struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
