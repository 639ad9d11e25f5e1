// Package devseed loads seed documents used to pre-populate the in-memory
// tree store and the sandbox server.
package devseed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTreeSeed reads a seed file and returns its content as a JSON object.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadTreeSeed(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read %s: %w", path, err)
	}
	return ParseTreeSeed(filepath.Ext(path), data)
}

// ParseTreeSeed decodes seed content according to the file extension ext.
func ParseTreeSeed(ext string, data []byte) (json.RawMessage, error) {
	var doc any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("devseed: decode yaml: %w", err)
		}
		normalised, err := normalise(doc)
		if err != nil {
			return nil, err
		}
		doc = normalised
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("devseed: decode json: %w", err)
		}
	}

	if doc == nil {
		return json.RawMessage("{}"), nil
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("devseed: seed root must be an object, got %T", doc)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("devseed: encode seed: %w", err)
	}
	return out, nil
}

// normalise converts YAML mappings into JSON-compatible maps.
func normalise(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalise(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			n, err := normalise(child)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		for i, child := range t {
			n, err := normalise(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
