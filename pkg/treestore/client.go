package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Ratio1/treestore_sdk_go/internal/httpx"
	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/internal/treeapi"
)

// DefaultTimeout bounds each remote call unless overridden with WithTimeout.
const DefaultTimeout = 10 * time.Second

// Backend performs the raw store primitives. Get returns JSON null (or an
// empty body) for an absent node; Delete of an absent node succeeds.
type Backend interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, raw []byte) error
	Post(ctx context.Context, path string, raw []byte) (string, error)
	Delete(ctx context.Context, path string) error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for call tracing at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client provides access to a tree store.
type Client struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// New constructs an HTTP-backed Client bound to baseURL.
func New(baseURL string, opts ...httpx.Option) (*Client, error) {
	cl, err := httpx.NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithHTTPClient(cl), nil
}

// NewWithHTTPClient wraps an existing httpx.Client.
func NewWithHTTPClient(httpClient *httpx.Client, opts ...Option) *Client {
	return NewWithBackend(NewHTTPBackend(httpClient), opts...)
}

// NewHTTPBackend returns a Backend speaking the REST dialect through
// httpClient.
func NewHTTPBackend(httpClient *httpx.Client) Backend {
	return &httpBackend{client: httpClient}
}

// NewWithBackend allows callers to supply a custom backend (e.g., mocks).
func NewWithBackend(b Backend, opts ...Option) *Client {
	c := &Client{
		backend: b,
		timeout: DefaultTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the backend the client was built with.
func (c *Client) Backend() Backend {
	return c.backend
}

// Join builds the path of child name under parent.
func Join(parent, name string) string {
	return treeapi.Join(parent, name)
}

// Get reads the node at path. It returns nil, nil when the node is absent.
func (c *Client) Get(ctx context.Context, path string) (*Node, error) {
	if err := c.check("get", path); err != nil {
		return nil, err
	}
	var data []byte
	err := c.call(ctx, "get", path, func(ctx context.Context) error {
		var err error
		data, err = c.backend.Get(ctx, treeapi.CleanPath(path))
		return err
	})
	if err != nil {
		return nil, err
	}
	if treeapi.IsNull(data) {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, NewError("get", KindStoreUnavailable, path, fmt.Errorf("store returned invalid JSON"))
	}
	return &Node{Path: treeapi.CleanPath(path), Value: json.RawMessage(data)}, nil
}

// Put writes value at path, replacing whatever was there.
func (c *Client) Put(ctx context.Context, path string, value any) error {
	raw, err := treeapi.Marshal(value)
	if err != nil {
		return NewError("put", KindInvalidArgument, path, fmt.Errorf("encode value: %w", err))
	}
	return c.PutRaw(ctx, path, raw)
}

// PutRaw writes a pre-encoded JSON document at path.
func (c *Client) PutRaw(ctx context.Context, path string, raw json.RawMessage) error {
	if err := c.check("put", path); err != nil {
		return err
	}
	if !json.Valid(raw) {
		return NewError("put", KindInvalidArgument, path, fmt.Errorf("value is not valid JSON"))
	}
	return c.call(ctx, "put", path, func(ctx context.Context) error {
		return c.backend.Put(ctx, treeapi.CleanPath(path), raw)
	})
}

// Post appends value under path with a store-generated key and returns the key.
func (c *Client) Post(ctx context.Context, path string, value any) (string, error) {
	if err := c.check("post", path); err != nil {
		return "", err
	}
	raw, err := treeapi.Marshal(value)
	if err != nil {
		return "", NewError("post", KindInvalidArgument, path, fmt.Errorf("encode value: %w", err))
	}
	var key string
	err = c.call(ctx, "post", path, func(ctx context.Context) error {
		var err error
		key, err = c.backend.Post(ctx, treeapi.CleanPath(path), raw)
		return err
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the node at path. Deleting an absent node is not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.check("delete", path); err != nil {
		return err
	}
	return c.call(ctx, "delete", path, func(ctx context.Context) error {
		return c.backend.Delete(ctx, treeapi.CleanPath(path))
	})
}

func (c *Client) check(op, path string) error {
	if c == nil || c.backend == nil {
		return NewError(op, KindInvalidArgument, path, fmt.Errorf("client is nil"))
	}
	return nil
}

// call runs fn under the per-call timeout and classifies its error.
func (c *Client) call(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c.logger.Debug("treestore call", "op", op, "path", path, "duration", time.Since(start), "error", err)
	return storeError(op, path, err)
}

// Get retrieves the node at path decoded into T, or nil when absent.
func Get[T any](ctx context.Context, client *Client, path string) (*Item[T], error) {
	node, err := client.Get(ctx, path)
	if err != nil || node == nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(node.Value, &value); err != nil {
		return nil, NewError("get", KindInvalidArgument, path, fmt.Errorf("decode value: %w", err))
	}
	return &Item[T]{Path: node.Path, Value: value}, nil
}

// Put stores value at path encoded as JSON.
func Put[T any](ctx context.Context, client *Client, path string, value T) (*Item[T], error) {
	if err := client.Put(ctx, path, value); err != nil {
		return nil, err
	}
	return &Item[T]{Path: treeapi.CleanPath(path), Value: value}, nil
}

type httpBackend struct {
	client *httpx.Client
}

func (b *httpBackend) Get(ctx context.Context, path string) ([]byte, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("treestore: http backend not configured")
	}
	return b.client.DoBytes(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   treeapi.ResourcePath(path),
	})
}

func (b *httpBackend) Put(ctx context.Context, path string, raw []byte) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("treestore: http backend not configured")
	}
	_, err := b.client.DoBytes(ctx, &httpx.Request{
		Method: http.MethodPut,
		Path:   treeapi.ResourcePath(path),
		Body:   raw,
	})
	return err
}

func (b *httpBackend) Post(ctx context.Context, path string, raw []byte) (string, error) {
	if b == nil || b.client == nil {
		return "", fmt.Errorf("treestore: http backend not configured")
	}
	data, err := b.client.DoBytes(ctx, &httpx.Request{
		Method: http.MethodPost,
		Path:   treeapi.ResourcePath(path),
		Body:   raw,
	})
	if err != nil {
		return "", err
	}
	return treeapi.DecodePushKey(data)
}

func (b *httpBackend) Delete(ctx context.Context, path string) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("treestore: http backend not configured")
	}
	_, err := b.client.DoBytes(ctx, &httpx.Request{
		Method: http.MethodDelete,
		Path:   treeapi.ResourcePath(path),
	})
	return err
}
