// Package registry holds the per-resource configuration: supported versions,
// enabled interactions, search-parameter policy, profile requirements, and
// schema placement. The configuration is loaded once at startup and published
// as an immutable snapshot; reloads swap the whole snapshot atomically.
package registry

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
)

// Interaction names a RESTful interaction a resource type can enable.
type Interaction string

const (
	InteractionRead    Interaction = "read"
	InteractionVRead   Interaction = "vread"
	InteractionCreate  Interaction = "create"
	InteractionUpdate  Interaction = "update"
	InteractionPatch   Interaction = "patch"
	InteractionDelete  Interaction = "delete"
	InteractionSearch  Interaction = "search"
	InteractionHistory Interaction = "history"
)

// AllInteractions is the default interaction set for resources that do not
// restrict it.
var AllInteractions = []Interaction{
	InteractionRead, InteractionVRead, InteractionCreate, InteractionUpdate,
	InteractionPatch, InteractionDelete, InteractionSearch, InteractionHistory,
}

// StorageMode selects where a resource type's rows live.
type StorageMode string

const (
	StorageShared    StorageMode = "shared"
	StorageDedicated StorageMode = "dedicated"
)

// SearchParamMode selects how the search-parameter policy is interpreted.
type SearchParamMode string

const (
	SearchParamAllowlist SearchParamMode = "allowlist"
	SearchParamDenylist  SearchParamMode = "denylist"
)

// schemaIdentRe is the strict pattern every schema identifier must match,
// validated at load and again immediately before use.
var schemaIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateSchemaIdent checks a schema identifier against the strict pattern.
func ValidateSchemaIdent(name string) error {
	if !schemaIdentRe.MatchString(name) {
		return fmt.Errorf("schema identifier %q is invalid: must match [A-Za-z_][A-Za-z0-9_]*", name)
	}
	return nil
}

// StorageConfig describes a resource type's schema placement.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
	// Schema names the dedicated schema. Ignored in shared mode.
	Schema string `yaml:"schema,omitempty"`
}

// SearchParamPolicy constrains the search parameters a resource accepts.
type SearchParamPolicy struct {
	Mode SearchParamMode `yaml:"mode"`
	// Common lists result-level parameters (underscore-prefixed).
	Common []string `yaml:"common,omitempty"`
	// Params lists resource-specific parameters.
	Params []string `yaml:"params,omitempty"`
	// FailOnUnknown makes disallowed parameters a client error instead of
	// being logged and dropped.
	FailOnUnknown bool `yaml:"failOnUnknown"`
}

// ProfileRequirement names a StructureDefinition a resource must (or should)
// conform to.
type ProfileRequirement struct {
	URL      string `yaml:"url"`
	Required bool   `yaml:"required"`
}

// ResourceConfig is the startup configuration for one resource type.
type ResourceConfig struct {
	Type           string                `yaml:"type"`
	Enabled        *bool                 `yaml:"enabled,omitempty"`
	Versions       []fhirversion.Version `yaml:"versions,omitempty"`
	DefaultVersion fhirversion.Version   `yaml:"defaultVersion,omitempty"`
	Storage        StorageConfig         `yaml:"storage"`
	Interactions   []Interaction         `yaml:"interactions,omitempty"`
	SearchParams   *SearchParamPolicy    `yaml:"searchParams,omitempty"`
	Profiles       []ProfileRequirement  `yaml:"profiles,omitempty"`
}

// IsEnabled reports whether the resource type accepts traffic. Resources are
// enabled unless explicitly disabled.
func (rc *ResourceConfig) IsEnabled() bool {
	return rc.Enabled == nil || *rc.Enabled
}

// Config is the whole resource configuration document.
type Config struct {
	APIVersion   string           `yaml:"apiVersion"`
	Kind         string           `yaml:"kind"`
	SharedSchema string           `yaml:"sharedSchema,omitempty"`
	Resources    []ResourceConfig `yaml:"resources"`
}

// LoadConfig reads and validates a resource configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse resource config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resource config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks structural invariants: unique types, known versions with
// exactly one default, and well-formed schema identifiers.
func (c *Config) Validate() error {
	if c.SharedSchema != "" {
		if err := ValidateSchemaIdent(c.SharedSchema); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Resources))
	for i := range c.Resources {
		rc := &c.Resources[i]
		if rc.Type == "" {
			return fmt.Errorf("resource[%d]: type is required", i)
		}
		if seen[rc.Type] {
			return fmt.Errorf("resource type %q configured twice", rc.Type)
		}
		seen[rc.Type] = true

		if len(rc.Versions) == 0 {
			rc.Versions = []fhirversion.Version{fhirversion.DefaultVersion}
		}
		for _, v := range rc.Versions {
			if !v.Valid() {
				return fmt.Errorf("resource %s: unknown version %q", rc.Type, v)
			}
		}
		if rc.DefaultVersion == "" {
			rc.DefaultVersion = rc.Versions[0]
		}
		if !containsVersion(rc.Versions, rc.DefaultVersion) {
			return fmt.Errorf("resource %s: default version %q is not in its supported versions", rc.Type, rc.DefaultVersion)
		}

		switch rc.Storage.Mode {
		case "", StorageShared:
			rc.Storage.Mode = StorageShared
		case StorageDedicated:
			if rc.Storage.Schema == "" {
				return fmt.Errorf("resource %s: dedicated storage requires a schema name", rc.Type)
			}
			if err := ValidateSchemaIdent(rc.Storage.Schema); err != nil {
				return fmt.Errorf("resource %s: %w", rc.Type, err)
			}
		default:
			return fmt.Errorf("resource %s: unknown storage mode %q", rc.Type, rc.Storage.Mode)
		}

		if len(rc.Interactions) == 0 {
			rc.Interactions = AllInteractions
		}

		if rc.SearchParams != nil {
			switch rc.SearchParams.Mode {
			case SearchParamAllowlist, SearchParamDenylist:
			default:
				return fmt.Errorf("resource %s: unknown search param mode %q", rc.Type, rc.SearchParams.Mode)
			}
		}
	}

	return nil
}

func containsVersion(versions []fhirversion.Version, v fhirversion.Version) bool {
	for _, have := range versions {
		if have == v {
			return true
		}
	}
	return false
}
