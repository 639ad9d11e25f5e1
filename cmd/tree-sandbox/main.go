// Command tree-sandbox serves an in-memory tree store over the REST dialect
// so treectl and the SDK can run without a real backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Ratio1/treestore_sdk_go/internal/config"
	"github.com/Ratio1/treestore_sdk_go/internal/devseed"
	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore/mock"
)

type options struct {
	addr     string
	seed     string
	latency  time.Duration
	fail     string
	auth     string
	logLevel string
	logJSON  bool
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tree-sandbox:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "tree-sandbox",
		Short:         "Serve an in-memory tree store for local development",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":8787", "listen address")
	f.StringVar(&opts.seed, "seed", "", "JSON or YAML document to load as the initial tree")
	f.DurationVar(&opts.latency, "latency", 0, "artificial latency to inject per request")
	f.StringVar(&opts.fail, "fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	f.StringVar(&opts.auth, "auth", "", "require this token in the auth query parameter")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")
	return cmd
}

func serve(ctx context.Context, opts options) error {
	logger, err := logging.New(logging.Config{
		Level:   opts.logLevel,
		JSON:    opts.logJSON,
		Service: "tree-sandbox",
		Output:  os.Stderr,
	})
	if err != nil {
		return err
	}

	failCfg, err := parseFailConfig(opts.fail)
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}

	store := mock.New()
	if opts.seed != "" {
		doc, err := devseed.LoadTreeSeed(opts.seed)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		if err := store.Seed(doc); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("seed loaded", "path", opts.seed, "top_level_keys", store.Len())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &http.Server{
		Addr: opts.addr,
		Handler: newRouter(store, reg, serverConfig{
			latency: opts.latency,
			fail:    failCfg,
			auth:    opts.auth,
			logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return err
	}

	fmt.Println("tree-sandbox listening on", ln.Addr())
	fmt.Println("Set the following environment variables in your app:")
	fmt.Printf("  export %s=%s\n", config.EnvMode, config.ModeHTTP)
	fmt.Printf("  export %s=%s\n", config.EnvURL, baseURL(ln.Addr()))
	if opts.auth != "" {
		fmt.Printf("  export %s=%s\n", config.EnvAuth, opts.auth)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func baseURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || tcp.IP.IsUnspecified() {
		port := 0
		if ok {
			port = tcp.Port
		}
		return fmt.Sprintf("http://localhost:%d", port)
	}
	return "http://" + tcp.String()
}
