package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles the parameter schema of spec. A nil parameter map
// compiles the default permissive schema.
func CompileSchema(spec FunctionSpec) (*jsonschema.Schema, error) {
	params := spec.Parameters
	if params == nil {
		params = DefaultParameters()
	}
	doc, err := normalizeJSON(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	url := spec.Name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateArgs validates args against schema. A nil schema accepts anything.
func ValidateArgs(schema *jsonschema.Schema, args Input) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = Input{}
	}
	doc, err := normalizeJSON(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	return schema.Validate(doc)
}

// normalizeJSON converts v into the generic representation produced by
// encoding/json so typed Go values (ints, structs) validate consistently.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
