// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"fmt"
	"io"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"
)

// Settings is a group of charm config option names and values. A Settings
// S is considered valid by the Config C if every key in S is an option in
// C, and every value either has the correct type or is nil.
type Settings map[string]interface{}

// Option represents a single charm config option.
type Option struct {
	Type        string      `yaml:"type"`
	Description string      `yaml:"description,omitempty"`
	Default     interface{} `yaml:"default,omitempty"`
}

// error replaces any supplied non-nil error with a new error describing a
// validation failure for the supplied value.
func (option Option) error(err *error, name string, value interface{}) {
	if *err != nil {
		*err = errors.NotValidf("option %q expected %s, got %#v", name, option.Type, value)
	}
}

// validate returns an appropriately-typed value for the supplied value, or
// returns an error if it cannot be converted to the correct type. Nil values
// are always considered valid.
func (option Option) validate(name string, value interface{}) (_ interface{}, err error) {
	if value == nil {
		return nil, nil
	}
	if checker := optionTypeCheckers[option.Type]; checker != nil {
		defer option.error(&err, name, value)
		if value, err = checker.Coerce(value, nil); err != nil {
			return nil, err
		}
		return value, nil
	}
	return nil, errors.NotValidf("option %q has unknown type %q", name, option.Type)
}

var optionTypeCheckers = map[string]schema.Checker{
	"string":  schema.String(),
	"int":     schema.ForceInt(),
	"float":   schema.Float(),
	"boolean": schema.Bool(),
}

// Config represents the supported configuration options for a charm,
// as declared in its config.yaml file.
type Config struct {
	Options map[string]Option `yaml:"options"`
}

// NewConfig returns a new Config without any options.
func NewConfig() *Config {
	return &Config{Options: map[string]Option{}}
}

// ReadConfig reads a Config in YAML format.
func ReadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var config *Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Annotate(err, "invalid config")
	}
	if config == nil {
		return nil, errors.NotValidf("invalid config: empty configuration")
	}
	if config.Options == nil {
		config.Options = map[string]Option{}
	}
	for name, option := range config.Options {
		switch option.Type {
		case "string", "int", "float", "boolean":
		case "":
			// Missing type is valid in python.
			option.Type = "string"
		default:
			return nil, errors.NotValidf("invalid config: option %q has unknown type %q", name, option.Type)
		}
		def := option.Default
		if def == "" && option.Type == "string" {
			// Skip normal validation for compatibility with pyjuju.
		} else if option.Default, err = option.validate(name, def); err != nil {
			option.error(&err, name, def)
			return nil, errors.Annotate(err, "invalid config default")
		}
		config.Options[name] = option
	}
	return config, nil
}

// OptionNames returns the sorted option names.
func (c *Config) OptionNames() []string {
	result := make([]string, 0, len(c.Options))
	for name := range c.Options {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// DefaultSettings returns settings containing the default value of every
// option in the config. Default values may be nil.
func (c *Config) DefaultSettings() Settings {
	out := make(Settings)
	for name, option := range c.Options {
		out[name] = option.Default
	}
	return out
}

// ValidateSettings returns a copy of the supplied settings with a consistent
// type for each value, layered over the option defaults. It returns an error
// if the settings contain an unknown option, or if an option value is
// invalid.
func (c *Config) ValidateSettings(settings Settings) (Settings, error) {
	out := c.DefaultSettings()
	for name, value := range settings {
		option, ok := c.Options[name]
		if !ok {
			return nil, errors.NotValidf("unknown option %q", name)
		}
		value, err := option.validate(name, value)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// Int returns the integer value of an option, which must have been
// validated by ValidateSettings.
func (s Settings) Int(name string) (int, error) {
	switch v := s[name].(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case nil:
		return 0, errors.NotFoundf("option %q", name)
	default:
		return 0, errors.NotValidf("option %q value %s", name, fmt.Sprint(v))
	}
}
