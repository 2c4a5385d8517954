package convengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// argValidator validates tool-call arguments against the JSON-schema
// parameter block the catalog advertised for that tool, before Dispatch
// ever reaches an adapter, skill, or external tool-server. Compiled
// schemas are cached by their raw JSON text, since toolregistry rebuilds
// the catalog's localized descriptions every turn but never its
// parameter shapes.
type argValidator struct {
	cache sync.Map
}

func newArgValidator() *argValidator {
	return &argValidator{}
}

// validate reports an error if args doesn't satisfy schemaDoc. A missing
// or empty schemaDoc is treated as "anything goes" — not every tool
// (skills in particular) carries a rigorous schema.
func (v *argValidator) validate(toolName string, schemaDoc json.RawMessage, args json.RawMessage) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	schema, err := v.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	var decoded any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("decode arguments: %w", err)
		}
	} else {
		decoded = map[string]any{}
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments invalid: %w", err)
	}
	return nil
}

func (v *argValidator) compile(schemaDoc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaDoc)
	if cached, ok := v.cache.Load(key); ok {
		if schema, ok := cached.(*jsonschema.Schema); ok {
			return schema, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	v.cache.Store(key, compiled)
	return compiled, nil
}
