// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"io"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// MarshalYAML implements yaml.Marshaler, producing the metadata.yaml
// document that ParseMeta reads back into an identical Meta.
func (m *Meta) MarshalYAML() (interface{}, error) {
	out := make(map[string]interface{}, len(m.Extra)+9)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["name"] = m.Name
	putString(out, "display-name", m.DisplayName)
	putString(out, "summary", m.Summary)
	putString(out, "description", m.Description)
	if len(m.Assumes) > 0 {
		out["assumes"] = m.Assumes
	}
	if len(m.Requires) > 0 {
		out["requires"] = marshalRelations(m.Requires)
	}
	if len(m.Peers) > 0 {
		out["peers"] = marshalRelations(m.Peers)
	}
	if len(m.Containers) > 0 {
		containers := make(map[string]interface{}, len(m.Containers))
		for name, c := range m.Containers {
			containers[name] = map[string]interface{}{"resource": c.Resource}
		}
		out["containers"] = containers
	}
	if len(m.Resources) > 0 {
		resources := make(map[string]interface{}, len(m.Resources))
		for name, r := range m.Resources {
			resources[name] = r.toSchemaMap()
		}
		out["resources"] = resources
	}
	return out, nil
}

// WriteMeta writes the metadata.yaml form of meta to w.
func WriteMeta(w io.Writer, meta *Meta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = w.Write(data)
	return errors.Trace(err)
}

func putString(out map[string]interface{}, key, value string) {
	if value != "" {
		out[key] = value
	}
}

func marshalRelations(relations map[string]Relation) map[string]interface{} {
	out := make(map[string]interface{}, len(relations))
	for name, r := range relations {
		rel := map[string]interface{}{
			"interface": r.Interface,
		}
		if r.Limit > 0 {
			rel["limit"] = r.Limit
		}
		if r.Optional {
			rel["optional"] = true
		}
		out[name] = rel
	}
	return out
}
