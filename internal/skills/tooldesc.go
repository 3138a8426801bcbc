package skills

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolDescriptor describes one named command a skill exposes. The
// parameter schema is JSON Schema; it is compiled at load time so a bad
// manifest fails discovery rather than a live request.
type ToolDescriptor struct {
	Name            string                 `yaml:"name"`
	Description     string                 `yaml:"description"`
	ParameterSchema map[string]interface{} `yaml:"parameter_schema,omitempty"`
	ReturnDirect    bool                   `yaml:"return_direct,omitempty"`

	compiled *jsonschema.Schema
}

// compile validates and compiles the parameter schema.
func (t *ToolDescriptor) compile() error {
	if t.Name == "" {
		return fmt.Errorf("missing tool name")
	}
	if t.ParameterSchema == nil {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", normalizeSchema(t.ParameterSchema)); err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	t.compiled = schema
	return nil
}

// ValidateParams checks a parameter map against the tool's schema.
// Tools without a schema accept anything.
func (t *ToolDescriptor) ValidateParams(params map[string]interface{}) error {
	if t.compiled == nil {
		return nil
	}
	if err := t.compiled.Validate(normalizeSchema(params)); err != nil {
		return fmt.Errorf("parameters for %q: %w", t.Name, err)
	}
	return nil
}

// normalizeSchema round-trips a value through JSON so YAML-decoded maps
// (which may hold interface{} keys or int values) match what the schema
// compiler expects.
func normalizeSchema(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
