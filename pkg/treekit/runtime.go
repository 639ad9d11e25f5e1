package treekit

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/Ratio1/treestore_sdk_go/internal/config"
	"github.com/Ratio1/treestore_sdk_go/internal/devseed"
	"github.com/Ratio1/treestore_sdk_go/internal/httpx"
	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore/mock"
)

// Option configures client bootstrap.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger sets the logger handed to the client.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics instruments the backend and registers its collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// NewFromEnv resolves the store settings from TREESTORE_* environment
// variables and returns the client with the resolved mode ("http" or "mock").
func NewFromEnv(opts ...Option) (*treestore.Client, string, error) {
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", fmt.Errorf("treekit: %w", err)
	}
	return New(cfg.Store, opts...)
}

// New builds a client for cfg and returns it with the resolved mode.
func New(cfg config.StoreConfig, opts ...Option) (*treestore.Client, string, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDiscard(o.logger)

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	baseURL := strings.TrimSpace(cfg.URL)

	var (
		backend treestore.Backend
		err     error
	)
	switch mode {
	case "", config.ModeAuto:
		if baseURL != "" {
			mode = config.ModeHTTP
			backend, err = newHTTPBackend(cfg)
		} else {
			mode = config.ModeMock
			backend, err = newMockBackend(cfg.Seed)
		}
	case config.ModeHTTP:
		if baseURL == "" {
			return nil, "", fmt.Errorf("treekit: HTTP mode requires %s", config.EnvURL)
		}
		backend, err = newHTTPBackend(cfg)
	case config.ModeMock:
		backend, err = newMockBackend(cfg.Seed)
	default:
		return nil, "", fmt.Errorf("treekit: unsupported %s value %q", config.EnvMode, cfg.Mode)
	}
	if err != nil {
		return nil, "", err
	}

	if o.registerer != nil {
		backend = treestore.Instrument(backend, o.registerer)
	}
	client := treestore.NewWithBackend(backend,
		treestore.WithTimeout(cfg.Timeout),
		treestore.WithLogger(o.logger),
	)
	o.logger.Debug("tree store client ready", "mode", mode, "url", redactedURL(baseURL))
	return client, mode, nil
}

func newHTTPBackend(cfg config.StoreConfig) (treestore.Backend, error) {
	var opts []httpx.Option
	if cfg.Auth != "" {
		opts = append(opts, httpx.WithQuery(url.Values{"auth": {cfg.Auth}}))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, httpx.WithRateLimit(rate.Limit(cfg.RequestsPerSecond), burst))
	}
	if cfg.MaxRetries > 0 {
		policy := httpx.DefaultRetryPolicy
		policy.MaxRetries = cfg.MaxRetries
		opts = append(opts, httpx.WithRetryPolicy(policy))
	}

	hc, err := httpx.NewClient(strings.TrimSpace(cfg.URL), opts...)
	if err != nil {
		return nil, fmt.Errorf("treekit: init HTTP client: %w", err)
	}
	return treestore.NewHTTPBackend(hc), nil
}

func newMockBackend(seedPath string) (treestore.Backend, error) {
	store := mock.New()
	if path := strings.TrimSpace(seedPath); path != "" {
		doc, err := devseed.LoadTreeSeed(path)
		if err != nil {
			return nil, fmt.Errorf("treekit: load mock seed: %w", err)
		}
		if err := store.Seed(doc); err != nil {
			return nil, fmt.Errorf("treekit: apply mock seed: %w", err)
		}
	}
	return store, nil
}

func redactedURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
