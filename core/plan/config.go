package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

type rawTable struct {
	Tiers map[string]Limits `yaml:"tiers"`
}

// Parse parses a plan table from YAML bytes, validating the document against
// the embedded schema first.
func Parse(data []byte) (Table, error) {
	if len(data) == 0 {
		return nil, errors.New("plan config is empty")
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plan config: %w", err)
	}
	if len(raw.Tiers) == 0 {
		return nil, errors.New("plan config has no tiers")
	}
	out := make(Table, len(raw.Tiers))
	for name, limits := range raw.Tiers {
		out[Tier(name)] = limits
	}
	if err := out.Validate(nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads a YAML plan table from disk.
func Load(path string) (Table, error) {
	if path == "" {
		return nil, errors.New("plan config path is empty")
	}

	// #nosec G304 -- plan config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan config %s: %w", path, err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load plan config %s: %w", path, err)
	}
	return table, nil
}

func validateSchema(data []byte) error {
	schemaBytes, err := planSchemaFS.ReadFile(planSchemaFile)
	if err != nil {
		return fmt.Errorf("load plan schema: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse plan config: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inmemory://plans", bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := compiler.Compile("inmemory://plans")
	if err != nil {
		return fmt.Errorf("compile plan schema: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("validate plan config: %w", err)
	}
	return nil
}
