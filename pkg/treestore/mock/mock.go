// Package mock provides an in-memory tree store with the same semantics as
// the remote REST store: absent nodes read as null, writing null or an empty
// object removes a node, and emptied parents disappear.
package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Ratio1/treestore_sdk_go/internal/treeapi"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

// Mock implements treestore.Backend over an in-memory JSON tree. It is safe
// for concurrent use.
type Mock struct {
	mu     sync.RWMutex
	root   map[string]any
	newKey func() string
}

// Option configures the mock instance.
type Option func(*Mock)

// WithKeyGenerator overrides how Post names new children (useful in tests).
func WithKeyGenerator(fn func() string) Option {
	return func(m *Mock) {
		if fn != nil {
			m.newKey = fn
		}
	}
}

// New creates an empty mock store.
func New(opts ...Option) *Mock {
	m := &Mock{
		root:   make(map[string]any),
		newKey: timeOrderedKey,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// timeOrderedKey returns a UUIDv7, whose string form sorts by creation time
// like the store's own push keys.
func timeOrderedKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Client returns a treestore.Client backed by m.
func (m *Mock) Client(opts ...treestore.Option) *treestore.Client {
	return treestore.NewWithBackend(m, opts...)
}

// Seed replaces the whole tree with doc, which must be a JSON object.
func (m *Mock) Seed(doc json.RawMessage) error {
	value, err := decode(doc)
	if err != nil {
		return fmt.Errorf("mock treestore: seed: %w", err)
	}
	if value == nil {
		value = map[string]any{}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("mock treestore: seed must be a JSON object")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = obj
	return nil
}

// Get returns the JSON encoding of the node at path, or null when absent.
func (m *Mock) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var node any = m.root
	for _, seg := range segments(path) {
		obj, ok := node.(map[string]any)
		if !ok {
			return []byte("null"), nil
		}
		if node, ok = obj[seg]; !ok {
			return []byte("null"), nil
		}
	}
	if obj, ok := node.(map[string]any); ok && len(obj) == 0 {
		return []byte("null"), nil
	}
	return treeapi.Marshal(node)
}

// Put replaces the node at path with raw, creating missing parents.
func (m *Mock) Put(ctx context.Context, path string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := decode(raw)
	if err != nil {
		return fmt.Errorf("mock treestore: put %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(segments(path), value)
}

// Post stores raw under a new child of path and returns the child key.
func (m *Mock) Post(ctx context.Context, path string, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("mock treestore: post %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.newKey()
	if err := m.set(append(segments(path), key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the node at path. Deleting an absent node succeeds.
func (m *Mock) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(segments(path), nil)
}

// Len reports the number of top-level nodes.
func (m *Mock) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.root)
}

// set writes value at segs; nil removes the node. Must hold m.mu.
func (m *Mock) set(segs []string, value any) error {
	if len(segs) == 0 {
		switch obj := value.(type) {
		case nil:
			m.root = map[string]any{}
		case map[string]any:
			m.root = obj
		default:
			return fmt.Errorf("mock treestore: root value must be a JSON object")
		}
		return nil
	}
	setIn(m.root, segs, value)
	return nil
}

// setIn writes value below parent and reports whether parent became empty.
func setIn(parent map[string]any, segs []string, value any) bool {
	name := segs[0]
	if len(segs) == 1 {
		if value == nil {
			delete(parent, name)
		} else {
			parent[name] = value
		}
		return len(parent) == 0
	}

	child, ok := parent[name].(map[string]any)
	if !ok {
		if value == nil {
			return len(parent) == 0
		}
		child = make(map[string]any)
		parent[name] = child
	}
	if setIn(child, segs[1:], value) {
		delete(parent, name)
	}
	return len(parent) == 0
}

func segments(path string) []string {
	clean := treeapi.CleanPath(path)
	if clean == "" {
		return nil
	}
	return strings.Split(clean, treeapi.Separator)
}

// decode parses raw keeping numbers verbatim and drops null members and empty
// objects the way the store does. A document that compacts to nothing
// decodes as nil.
func decode(raw []byte) (any, error) {
	if treeapi.IsNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode value: trailing data")
	}
	return compact(value), nil
}

func compact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if c := compact(child); c == nil {
				delete(t, k)
			} else {
				t[k] = c
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = compact(child)
		}
		return t
	default:
		return v
	}
}
