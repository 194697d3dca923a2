// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package agent reads the configuration of the charm runtime daemon.
package agent

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/names/v5"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"
	"gopkg.in/yaml.v2"
)

const (
	ApplicationKey        = "application"
	NamespaceKey          = "namespace"
	KubeConfigKey         = "kubeconfig"
	MetadataKey           = "metadata"
	CharmConfigKey        = "charm-config"
	ResourceDirKey        = "resource-dir"
	ListenAddressKey      = "listen-address"
	ResyncIntervalKey     = "resync-interval"
	RetryDelayKey         = "retry-delay"
	MaxRetryDelayKey      = "max-retry-delay"
	ResolveConcurrencyKey = "resolve-concurrency"
	LoggingConfigKey      = "logging-config"
	WorkloadHostKey       = "workload-host"
)

// Defaults for optional settings.
const (
	DefaultNamespace          = "default"
	DefaultResourceDir        = "/var/lib/charmruntime/resources"
	DefaultListenAddress      = ":8080"
	DefaultResyncInterval     = "5m"
	DefaultRetryDelay         = "5s"
	DefaultMaxRetryDelay      = "5m"
	DefaultResolveConcurrency = 2
	DefaultLoggingConfig      = "<root>=INFO"
)

var configSchema = environschema.Fields{
	ApplicationKey: {
		Description: "The name of the application the runtime operates.",
		Type:        environschema.Tstring,
		Mandatory:   true,
	},
	NamespaceKey: {
		Description: "The Kubernetes namespace of the application.",
		Type:        environschema.Tstring,
	},
	KubeConfigKey: {
		Description: "Path to a kubeconfig file. The in-cluster config is used when not set.",
		Type:        environschema.Tstring,
	},
	MetadataKey: {
		Description: "Path to the charm metadata.yaml. The bundled demo charm is used when not set.",
		Type:        environschema.Tstring,
	},
	CharmConfigKey: {
		Description: "Path to the charm config.yaml.",
		Type:        environschema.Tstring,
	},
	ResourceDirKey: {
		Description: "The directory holding file resources, one sub directory per resource.",
		Type:        environschema.Tstring,
	},
	ListenAddressKey: {
		Description: "The address the HTTP API listens on.",
		Type:        environschema.Tstring,
	},
	ResyncIntervalKey: {
		Description: "How often a reconciliation pass runs when nothing triggers one.",
		Type:        environschema.Tstring,
	},
	RetryDelayKey: {
		Description: "The delay before a transiently failed resource is resolved again.",
		Type:        environschema.Tstring,
	},
	MaxRetryDelayKey: {
		Description: "The longest delay between resolution retries.",
		Type:        environschema.Tstring,
	},
	ResolveConcurrencyKey: {
		Description: "The number of resources of one type resolved at the same time.",
		Type:        environschema.Tint,
	},
	LoggingConfigKey: {
		Description: "The loggo logging configuration, eg. <root>=INFO;charmruntime.relation=DEBUG.",
		Type:        environschema.Tstring,
	},
	WorkloadHostKey: {
		Description: "The host the workload answers version requests on. The workload version is not reported when not set.",
		Type:        environschema.Tstring,
	},
}

var configDefaults = schema.Defaults{
	NamespaceKey:          DefaultNamespace,
	KubeConfigKey:         schema.Omit,
	MetadataKey:           schema.Omit,
	CharmConfigKey:        schema.Omit,
	ResourceDirKey:        DefaultResourceDir,
	ListenAddressKey:      DefaultListenAddress,
	ResyncIntervalKey:     DefaultResyncInterval,
	RetryDelayKey:         DefaultRetryDelay,
	MaxRetryDelayKey:      DefaultMaxRetryDelay,
	ResolveConcurrencyKey: DefaultResolveConcurrency,
	LoggingConfigKey:      DefaultLoggingConfig,
	WorkloadHostKey:       schema.Omit,
}

var configChecker = func() schema.Checker {
	fields, _, err := configSchema.ValidationSchema()
	if err != nil {
		panic(err)
	}
	return schema.StrictFieldMap(fields, configDefaults)
}()

// Config is the validated configuration of the daemon.
type Config struct {
	attrs map[string]interface{}

	resyncInterval time.Duration
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
}

// NewConfig validates attrs, filling in defaults for anything not set.
// Unknown attributes are rejected.
func NewConfig(attrs map[string]interface{}) (*Config, error) {
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "agent config")
	}
	cfg := &Config{attrs: coerced.(map[string]interface{})}
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !names.IsValidApplication(c.Application()) {
		return errors.NotValidf("application name %q", c.Application())
	}
	var err error
	if c.resyncInterval, err = c.duration(ResyncIntervalKey); err != nil {
		return errors.Trace(err)
	}
	if c.retryDelay, err = c.duration(RetryDelayKey); err != nil {
		return errors.Trace(err)
	}
	if c.maxRetryDelay, err = c.duration(MaxRetryDelayKey); err != nil {
		return errors.Trace(err)
	}
	if c.maxRetryDelay < c.retryDelay {
		return errors.NotValidf("%s %v shorter than %s %v", MaxRetryDelayKey, c.maxRetryDelay, RetryDelayKey, c.retryDelay)
	}
	if c.ResolveConcurrency() < 1 {
		return errors.NotValidf("%s %d", ResolveConcurrencyKey, c.ResolveConcurrency())
	}
	if _, err := loggo.ParseConfigString(c.LoggingConfig()); err != nil {
		return errors.NewNotValid(err, LoggingConfigKey)
	}
	return nil
}

func (c *Config) duration(key string) (time.Duration, error) {
	value := c.str(key)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NewNotValid(err, key)
	}
	if d <= 0 {
		return 0, errors.NotValidf("non-positive %s %q", key, value)
	}
	return d, nil
}

func (c *Config) str(key string) string {
	v, _ := c.attrs[key].(string)
	return v
}

// Application returns the name of the operated application.
func (c *Config) Application() string {
	return c.str(ApplicationKey)
}

// Namespace returns the Kubernetes namespace of the application.
func (c *Config) Namespace() string {
	return c.str(NamespaceKey)
}

// KubeConfig returns the kubeconfig path, empty for in-cluster config.
func (c *Config) KubeConfig() string {
	return c.str(KubeConfigKey)
}

// MetadataPath returns the metadata.yaml path, empty for the bundled charm.
func (c *Config) MetadataPath() string {
	return c.str(MetadataKey)
}

// CharmConfigPath returns the config.yaml path.
func (c *Config) CharmConfigPath() string {
	return c.str(CharmConfigKey)
}

func (c *Config) ResourceDir() string {
	return c.str(ResourceDirKey)
}

func (c *Config) ListenAddress() string {
	return c.str(ListenAddressKey)
}

func (c *Config) ResyncInterval() time.Duration {
	return c.resyncInterval
}

func (c *Config) RetryDelay() time.Duration {
	return c.retryDelay
}

func (c *Config) MaxRetryDelay() time.Duration {
	return c.maxRetryDelay
}

func (c *Config) ResolveConcurrency() int {
	v, _ := c.attrs[ResolveConcurrencyKey].(int)
	return v
}

func (c *Config) LoggingConfig() string {
	return c.str(LoggingConfigKey)
}

// WorkloadHost returns the host to ask for the workload version, empty
// when the version is not reported.
func (c *Config) WorkloadHost() string {
	return c.str(WorkloadHostKey)
}

// Format is the serialisation of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from the file extension. Anything but
// .toml is read as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ParseConfig decodes and validates a config document.
func ParseConfig(data []byte, format Format) (*Config, error) {
	attrs := make(map[string]interface{})
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return nil, errors.NewNotValid(err, "agent config YAML")
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &attrs); err != nil {
			return nil, errors.NewNotValid(err, "agent config TOML")
		}
	default:
		return nil, errors.NotSupportedf("config format %q", format)
	}
	return NewConfig(attrs)
}

// ReadConfig reads the config file at path.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading agent config %q", path)
	}
	cfg, err := ParseConfig(data, FormatForPath(path))
	return cfg, errors.Annotatef(err, "agent config %q", path)
}
