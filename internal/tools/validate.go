package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// ValidateArgs checks tool arguments against the registered schema. Tools
// without a schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	reg, ok := r.get(name)
	if !ok {
		return fmt.Errorf("tools: unknown tool %s", name)
	}
	if reg.schema == nil {
		return nil
	}
	if err := reg.schema.Validate(anyMap(args)); err != nil {
		return fmt.Errorf("tools: invalid args for %s: %w", name, err)
	}
	return nil
}

// anyMap normalizes args through JSON so the validator sees the same types
// a decoded request would carry.
func anyMap(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}

// DecodeArgs parses the raw model-provided arguments into a map.
func DecodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("tools: malformed arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
