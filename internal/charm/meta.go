// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"io"
	"sort"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"

	"github.com/juju/charmruntime/core/relation"
)

// Relation represents a single relation endpoint declared in the charm
// metadata.
type Relation struct {
	Name      string
	Role      relation.Role
	Interface string
	// Limit is the maximum number of remote units that may be joined at
	// once. Zero means unlimited.
	Limit int
	// Optional requirers do not hold back the workload while unrelated.
	Optional bool
}

// Container is a workload container run by the charm.
type Container struct {
	Name     string
	Resource string
}

// Meta represents all the known content that may be defined within a charm's
// metadata.yaml file. A Meta is never modified once it has been read.
type Meta struct {
	Name        string
	DisplayName string
	Summary     string
	Description string
	Assumes     []string
	Requires    map[string]Relation
	Peers       map[string]Relation
	Containers  map[string]Container
	Resources   map[string]Resource

	// Extra holds the top level fields this runtime does not interpret.
	// They are carried through unchanged when the metadata is written back.
	Extra map[string]interface{}
}

// Relation returns the relation endpoint with the given name, whether it is
// declared under requires or peers.
func (m *Meta) Relation(name string) (Relation, bool) {
	if r, ok := m.Requires[name]; ok {
		return r, true
	}
	r, ok := m.Peers[name]
	return r, ok
}

// RequiredRelations returns the requires endpoints that must be joined before
// the workload can be configured, sorted by name.
func (m *Meta) RequiredRelations() []Relation {
	var result []Relation
	for _, r := range m.Requires {
		if !r.Optional {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ContainerNames returns the declared container names in order.
func (m *Meta) ContainerNames() []string {
	result := set.NewStrings()
	for name := range m.Containers {
		result.Add(name)
	}
	return result.SortedValues()
}

// ReadMeta reads the content of a metadata.yaml file and returns its
// representation.
func ReadMeta(r io.Reader) (*Meta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseMeta(data)
}

// ParseMeta parses metadata.yaml content. Unknown fields are ignored.
func ParseMeta(data []byte) (*Meta, error) {
	raw := make(map[interface{}]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(MalformedDeclaration, err.Error())
	}
	v, err := charmSchema.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotate(MalformedDeclaration, err.Error())
	}
	m := v.(map[string]interface{})

	meta := &Meta{
		Name:        stringField(m, "name"),
		DisplayName: stringField(m, "display-name"),
		Summary:     stringField(m, "summary"),
		Description: stringField(m, "description"),
		Requires:    parseRelations(m["requires"], relation.RoleRequirer),
		Peers:       parseRelations(m["peers"], relation.RolePeer),
		Containers:  parseContainers(m["containers"]),
		Extra:       extraFields(raw),
	}
	if assumes, ok := m["assumes"].([]interface{}); ok {
		for _, a := range assumes {
			meta.Assumes = append(meta.Assumes, a.(string))
		}
	}
	if meta.Resources, err = parseMetaResources(m["resources"]); err != nil {
		return nil, errors.Annotate(MalformedDeclaration, err.Error())
	}
	if err := meta.Check(); err != nil {
		return nil, errors.Trace(err)
	}
	return meta, nil
}

// Check checks that the metadata is well-formed: the required fields are
// present, relation names are unique and every container refers to a
// declared resource.
func (m *Meta) Check() error {
	if m.Name == "" {
		return errors.Annotate(MissingRequiredField, `"name"`)
	}
	if !names.IsValidApplication(m.Name) {
		return errors.Annotatef(MalformedDeclaration, "invalid charm name %q", m.Name)
	}
	for name, r := range m.Requires {
		if err := checkRelation(name, r); err != nil {
			return errors.Trace(err)
		}
		if _, ok := m.Peers[name]; ok {
			return errors.Annotatef(MalformedDeclaration, "relation %q declared as both requires and peers", name)
		}
	}
	for name, r := range m.Peers {
		if err := checkRelation(name, r); err != nil {
			return errors.Trace(err)
		}
	}
	for name, container := range m.Containers {
		if container.Resource == "" {
			return errors.Annotatef(MissingRequiredField, "container %q: resource", name)
		}
		if _, ok := m.Resources[container.Resource]; !ok {
			return errors.Annotatef(DanglingResourceReference,
				"container %q refers to undeclared resource %q", name, container.Resource)
		}
	}
	if err := validateMetaResources(m.Resources); err != nil {
		return errors.Annotate(MalformedDeclaration, err.Error())
	}
	return nil
}

func checkRelation(name string, r Relation) error {
	if strings.HasPrefix(name, "juju-") {
		return errors.Annotatef(MalformedDeclaration, "relation %q: juju- prefix is reserved", name)
	}
	if r.Interface == "" {
		return errors.Annotatef(MissingRequiredField, "relation %q: interface", name)
	}
	if r.Limit < 0 {
		return errors.Annotatef(MalformedDeclaration, "relation %q: negative limit %d", name, r.Limit)
	}
	return nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func parseRelations(relations interface{}, role relation.Role) map[string]Relation {
	result := make(map[string]Relation)
	if relations == nil {
		return result
	}
	for name, rel := range relations.(map[interface{}]interface{}) {
		relMap := rel.(map[string]interface{})
		r := Relation{
			Name:      name.(string),
			Role:      role,
			Interface: relMap["interface"].(string),
			Optional:  relMap["optional"].(bool),
		}
		if limit := relMap["limit"]; limit != nil {
			// Schema decodes as int64, but the int range is plenty.
			r.Limit = int(limit.(int64))
		}
		result[r.Name] = r
	}
	return result
}

func parseContainers(containers interface{}) map[string]Container {
	result := make(map[string]Container)
	if containers == nil {
		return result
	}
	for name, c := range containers.(map[interface{}]interface{}) {
		cMap := c.(map[string]interface{})
		result[name.(string)] = Container{
			Name:     name.(string),
			Resource: stringField(cMap, "resource"),
		}
	}
	return result
}

func extraFields(raw map[interface{}]interface{}) map[string]interface{} {
	var extra map[string]interface{}
	for k, v := range raw {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if _, known := charmFields[key]; known {
			continue
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		extra[key] = v
	}
	return extra
}

// Schema coercer that expands the interface shorthand notation.
// A consistent format is easier to work with than considering the
// potential difference everywhere.
//
// Supports the following variants::
//
//	requires:
//	  database: postgresql_client
//	  cache:
//	    interface: redis
//	    limit: 1
//	    optional: true
//
// In all input cases, the output is the fully specified interface
// representation as seen in the cache interface description above.
func ifaceExpander(limit interface{}) schema.Checker {
	return ifaceExpC{limit}
}

type ifaceExpC struct {
	limit interface{}
}

var (
	stringC = schema.String()
	mapC    = schema.Map(schema.String(), schema.Any())
)

// Coerce is part of the schema.Checker interface.
func (c ifaceExpC) Coerce(v interface{}, path []string) (interface{}, error) {
	if s, err := stringC.Coerce(v, path); err == nil {
		return map[string]interface{}{
			"interface": s,
			"limit":     c.limit,
			"optional":  false,
		}, nil
	}

	// Optional values have defaults which depend on where the relation is
	// declared, so fill them in here and then coerce to the real schema.
	v, err := mapC.Coerce(v, path)
	if err != nil {
		return nil, err
	}
	m := v.(map[interface{}]interface{})
	if _, ok := m["limit"]; !ok {
		m["limit"] = c.limit
	}
	if _, ok := m["optional"]; !ok {
		m["optional"] = false
	}
	return ifaceSchema.Coerce(m, path)
}

var ifaceSchema = schema.FieldMap(
	schema.Fields{
		"interface": schema.String(),
		"limit":     schema.OneOf(schema.Const(nil), schema.Int()),
		"optional":  schema.Bool(),
	},
	schema.Defaults{
		"interface": "",
	},
)

var containerSchema = schema.FieldMap(
	schema.Fields{
		"resource": schema.String(),
	},
	schema.Defaults{
		"resource": schema.Omit,
	},
)

var charmFields = schema.Fields{
	"name":         schema.String(),
	"display-name": schema.String(),
	"summary":      schema.String(),
	"description":  schema.String(),
	"assumes":      schema.List(schema.String()),
	"requires":     schema.Map(schema.String(), ifaceExpander(nil)),
	"peers":        schema.Map(schema.String(), ifaceExpander(nil)),
	"containers":   schema.Map(schema.String(), containerSchema),
	"resources":    schema.StringMap(resourceSchema),
}

var charmSchema = schema.FieldMap(
	charmFields,
	schema.Defaults{
		"name":         schema.Omit,
		"display-name": schema.Omit,
		"summary":      schema.Omit,
		"description":  schema.Omit,
		"assumes":      schema.Omit,
		"requires":     schema.Omit,
		"peers":        schema.Omit,
		"containers":   schema.Omit,
		"resources":    schema.Omit,
	},
)
