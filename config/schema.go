package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON Schema for layoutsync configuration files.
// Extension sections (such as "logging") are owned by their packages and are
// not part of the base schema.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	type BaseConfig struct {
		Version  string          `yaml:"version,omitempty" jsonschema:"description=Configuration version"`
		Hub      *HubConfig      `yaml:"hub,omitempty" jsonschema:"description=Message hub settings"`
		Activity *ActivityConfig `yaml:"activity,omitempty" jsonschema:"description=Activity settings"`
		Daemon   *DaemonConfig   `yaml:"daemon,omitempty" jsonschema:"description=Daemon settings"`
	}

	schema := r.Reflect(&BaseConfig{})
	schema.Title = "layoutsync Configuration"
	schema.Description = "Schema for layoutsync.yml properties."
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return json.MarshalIndent(schema, "", "  ")
}
