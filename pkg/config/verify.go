package config

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a JSON schema for the Config struct, used by
// cmd/schema to produce schema.json for editors and docs
func GenerateSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}

// VerifySchema checks the loaded config against the reflected schema shape.
// Supplementary to validate(), a failure here is reported but not fatal.
func VerifySchema(cfg *Config) error {
	schema := GenerateSchema()
	if schema == nil {
		return fmt.Errorf("reflect config schema")
	}

	// basic structural verification, a full draft validator is overkill here
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.Timeout == 0 {
		return fmt.Errorf("server.timeout is required")
	}
	if cfg.Email.Enabled && cfg.Email.Host == "" {
		return fmt.Errorf("email.host is required when email is enabled")
	}

	return nil
}
