// Package treeapi holds wire helpers for the tree store REST dialect: nodes
// are addressed as "<base>/<path>.json", absent nodes read as JSON null and
// POST answers with the generated child key.
package treeapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strings"
)

// Separator delimits path segments.
const Separator = "/"

// forbidden lists characters the store rejects inside a node name.
const forbidden = ".$#[]"

// CleanPath trims surrounding separators and collapses empty segments.
// The root path cleans to "".
func CleanPath(p string) string {
	parts := strings.Split(strings.TrimSpace(p), Separator)
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, Separator)
}

// Join appends name to parent. Parent paths conventionally end with a
// separator, but both forms are accepted.
func Join(parent, name string) string {
	return CleanPath(parent + Separator + name)
}

// ResourcePath turns a node path into the request path, e.g. "a/b" becomes
// "/a/b.json" and the root becomes "/.json".
func ResourcePath(p string) string {
	return Separator + CleanPath(p) + ".json"
}

// ValidateName reports whether name can address a single child node.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("treeapi: node name is required")
	}
	if strings.Contains(name, Separator) {
		return fmt.Errorf("treeapi: node name %q must not contain %q", name, Separator)
	}
	if strings.ContainsAny(name, forbidden) {
		return fmt.Errorf("treeapi: node name %q must not contain any of %q", name, forbidden)
	}
	return nil
}

// IsNull reports whether body encodes an absent node.
func IsNull(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// DecodePushKey extracts the generated key from a POST response.
func DecodePushKey(body []byte) (string, error) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return "", fmt.Errorf("treeapi: decode push response: %w", err)
	}
	if payload.Name == "" {
		return "", errors.New("treeapi: push response missing name")
	}
	return payload.Name, nil
}

// EncodePushKey builds the POST response body for key.
func EncodePushKey(key string) ([]byte, error) {
	return json.Marshal(struct {
		Name string `json:"name"`
	}{Name: key})
}

// Marshal encodes v without HTML escaping and without a trailing newline.
func Marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SemanticEqual reports whether two JSON documents decode to equal values,
// ignoring key order and whitespace. Numbers compare by exact value, so
// 1 equals 1.0 but 9007199254740993 differs from 9007199254740992.
func SemanticEqual(a, b []byte) (bool, error) {
	av, err := decodeExact(a)
	if err != nil {
		return false, fmt.Errorf("treeapi: decode left document: %w", err)
	}
	bv, err := decodeExact(b)
	if err != nil {
		return false, fmt.Errorf("treeapi: decode right document: %w", err)
	}
	return reflect.DeepEqual(av, bv), nil
}

// exactNumber is the canonical rational form of a JSON number.
type exactNumber string

func decodeExact(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after document")
	}
	return canonical(v)
}

func canonical(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		r, ok := new(big.Rat).SetString(string(t))
		if !ok {
			return nil, fmt.Errorf("invalid number %q", t)
		}
		return exactNumber(r.RatString()), nil
	case map[string]any:
		for k, child := range t {
			c, err := canonical(child)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case []any:
		for i, child := range t {
			c, err := canonical(child)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}
