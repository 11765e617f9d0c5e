package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Compile parses a JSON schema document under the given id.
func Compile(id string, schema []byte) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateSchema validates a value against a JSON schema payload.
func ValidateSchema(id string, schema []byte, value any) error {
	compiled, err := Compile(id, schema)
	if err != nil {
		return err
	}
	return validateCompiled(compiled, value)
}

func validateCompiled(compiled *jsonschema.Schema, value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: normalize payload: %v", ErrInvalid, err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// normalizeValue turns raw JSON and Go structs into the generic shape the
// validator expects.
func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	case map[string]any:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return decode(data)
	}
}

func decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id + ".json"
}
