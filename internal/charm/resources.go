// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/juju/charmruntime/core/resource"
)

// Resource describes an artifact the workload depends on.
type Resource struct {
	Name        string
	Type        resource.Type
	Description string
	// UpstreamSource is where the resource is expected to come from. It is a
	// hint only; an attached reference takes precedence at runtime.
	UpstreamSource string
	// Filename is the name of the file for file resources.
	Filename string
}

// Validate checks the resource for consistency.
func (r Resource) Validate() error {
	if r.Name == "" {
		return errors.NotValidf("resource missing name")
	}
	if _, err := resource.ParseType(r.Type.String()); err != nil {
		return errors.Annotatef(err, "resource %q", r.Name)
	}
	if r.Type == resource.TypeFile && r.Filename == "" {
		return errors.NotValidf("file resource %q missing filename", r.Name)
	}
	return nil
}

var resourceSchema = schema.FieldMap(
	schema.Fields{
		"type":            schema.String(),
		"filename":        schema.String(),
		"description":     schema.String(),
		"upstream-source": schema.String(),
	},
	schema.Defaults{
		"type":            resource.TypeFile.String(),
		"filename":        "",
		"description":     "",
		"upstream-source": "",
	},
)

func parseMetaResources(data interface{}) (map[string]Resource, error) {
	result := make(map[string]Resource)
	if data == nil {
		return result, nil
	}
	for name, val := range data.(map[string]interface{}) {
		meta, err := parseResourceMeta(name, val)
		if err != nil {
			return nil, err
		}
		result[name] = meta
	}
	return result, nil
}

func validateMetaResources(resources map[string]Resource) error {
	for name, res := range resources {
		if res.Name != name {
			return fmt.Errorf("mismatch on resource name (%q != %q)", res.Name, name)
		}
		if err := res.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// parseResourceMeta parses the provided data into a Resource, assuming
// that the data has first been checked with resourceSchema.
func parseResourceMeta(name string, data interface{}) (Resource, error) {
	meta := Resource{
		Name: name,
		Type: resource.TypeFile,
	}
	if data == nil {
		return meta, nil
	}
	rMap := data.(map[string]interface{})

	if val := rMap["type"]; val != nil {
		var err error
		meta.Type, err = resource.ParseType(val.(string))
		if err != nil {
			return meta, errors.Trace(err)
		}
	}
	if val := rMap["filename"]; val != nil {
		meta.Filename = val.(string)
	}
	if val := rMap["description"]; val != nil {
		meta.Description = val.(string)
	}
	if val := rMap["upstream-source"]; val != nil {
		meta.UpstreamSource = val.(string)
	}
	return meta, nil
}

// toSchemaMap returns the metadata.yaml form of the resource.
func (r Resource) toSchemaMap() map[string]interface{} {
	out := map[string]interface{}{
		"type": r.Type.String(),
	}
	if r.Description != "" {
		out["description"] = r.Description
	}
	if r.UpstreamSource != "" {
		out["upstream-source"] = r.UpstreamSource
	}
	if r.Filename != "" {
		out["filename"] = r.Filename
	}
	return out
}
