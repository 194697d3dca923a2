// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload models the configuration the charm wants applied to each
// of its workload containers.
package workload

import (
	"fmt"
	"sort"

	"github.com/juju/errors"
)

// Port is a port the container listens on.
type Port struct {
	ContainerPort int    `yaml:"container-port" json:"container-port"`
	Protocol      string `yaml:"protocol,omitempty" json:"protocol,omitempty"`
}

// Config is the desired configuration of one workload container.
type Config struct {
	Image string `yaml:"image" json:"image"`
	// Service names the process the command runs as.
	Service     string            `yaml:"service,omitempty" json:"service,omitempty"`
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Ports       []Port            `yaml:"ports,omitempty" json:"ports,omitempty"`
	// Mounts maps mount paths in the container to bound file resource
	// locations.
	Mounts map[string]string `yaml:"mounts,omitempty" json:"mounts,omitempty"`
}

// Validate returns an error if the config cannot be applied.
func (c Config) Validate() error {
	if c.Image == "" {
		return errors.NotValidf("missing image")
	}
	for _, p := range c.Ports {
		if p.ContainerPort < 1 || p.ContainerPort > 65535 {
			return errors.NotValidf("container port %d", p.ContainerPort)
		}
		switch p.Protocol {
		case "", "TCP", "UDP", "SCTP":
		default:
			return errors.NotValidf("protocol %q for port %d", p.Protocol, p.ContainerPort)
		}
	}
	for path := range c.Mounts {
		if path == "" || path[0] != '/' {
			return errors.NotValidf("mount path %q", path)
		}
	}
	return nil
}

// Field names reported by Diff.
const (
	FieldImage       = "image"
	FieldService     = "service"
	FieldCommand     = "command"
	FieldEnvironment = "environment"
	FieldPorts       = "ports"
	FieldMounts      = "mounts"
)

// Diff returns the names of the fields that differ between the configs, in
// a stable order. A nil or empty result means the configs are equivalent.
func Diff(old, new Config) []string {
	var changed []string
	if old.Image != new.Image {
		changed = append(changed, FieldImage)
	}
	if old.Service != new.Service {
		changed = append(changed, FieldService)
	}
	if old.Command != new.Command {
		changed = append(changed, FieldCommand)
	}
	if !equalMaps(old.Environment, new.Environment) {
		changed = append(changed, FieldEnvironment)
	}
	if !equalPorts(old.Ports, new.Ports) {
		changed = append(changed, FieldPorts)
	}
	if !equalMaps(old.Mounts, new.Mounts) {
		changed = append(changed, FieldMounts)
	}
	return changed
}

func equalMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// equalPorts ignores ordering and treats an empty protocol as TCP.
func equalPorts(a, b []Port) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(ports []Port) []string {
		out := make([]string, len(ports))
		for i, p := range ports {
			proto := p.Protocol
			if proto == "" {
				proto = "TCP"
			}
			out[i] = fmt.Sprintf("%d/%s", p.ContainerPort, proto)
		}
		sort.Strings(out)
		return out
	}
	ka, kb := key(a), key(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

// EnvironmentNames returns the sorted names of the environment variables.
func (c Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environment))
	for name := range c.Environment {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
