// Package main provides the entry point for the mcp-dbinstance server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/txn2/mcp-dbinstance/internal/server"
	"github.com/txn2/mcp-dbinstance/pkg/health"
	mw "github.com/txn2/mcp-dbinstance/pkg/http"
	"github.com/txn2/mcp-dbinstance/pkg/platform"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "", "Transport type: stdio, http")
	flag.StringVar(&opts.address, "address", "", "Listen address for HTTP transport")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("mcp-dbinstance version %s\n", mcpserver.Version)
		return nil
	}

	ctx := setupSignalHandler()

	p, err := createPlatform(opts)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			slog.Warn("closing platform", "error", cerr)
		}
	}()

	applyConfigDefaults(p, &opts)

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := p.Stop(stopCtx); serr != nil {
			slog.Warn("stopping platform", "error", serr)
		}
	}()

	switch opts.transport {
	case "stdio":
		return p.MCPServer().Run(ctx, &mcp.StdioTransport{})
	case "http":
		return serveHTTP(ctx, p, opts.address)
	default:
		return fmt.Errorf("unknown transport: %s", opts.transport)
	}
}

func createPlatform(opts serverOptions) (*platform.Platform, error) {
	if opts.configPath != "" {
		return mcpserver.New(opts.configPath)
	}
	return mcpserver.NewWithDefaults()
}

// applyConfigDefaults fills in transport options from config when flags
// did not set them.
func applyConfigDefaults(p *platform.Platform, opts *serverOptions) {
	if opts.transport == "" {
		opts.transport = p.Config().Server.Transport
	}
	if opts.address == "" {
		opts.address = p.Config().Server.Address
	}
	if opts.address == "" {
		opts.address = ":8080"
	}
}

func serveHTTP(ctx context.Context, p *platform.Platform, address string) error {
	checker := health.NewChecker(func() health.Stats {
		s := health.Stats{Instances: len(p.InstanceNames())}
		for _, name := range p.InstanceNames() {
			if inst, ok := p.Instance(name); ok {
				s.Contexts += len(inst.AllContexts())
			}
		}
		return s
	})

	streamHandler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return p.MCPServer() }, nil)

	mcpHandler, err := wrapWithAuth(streamHandler, p.Config().Auth)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.Handle("/mcp", mcpHandler)

	srv := &http.Server{
		Addr:              address,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http transport listening", "address", address)
		errCh <- srv.ListenAndServe()
	}()
	checker.SetReady()

	select {
	case <-ctx.Done():
		checker.SetDraining()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// corsMiddleware sets the CORS headers MCP clients need for the
// streamable HTTP transport and answers OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version, X-API-Key, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// wrapWithAuth applies credential extraction and validation middleware
// when any auth method is enabled.
func wrapWithAuth(handler http.Handler, cfg platform.AuthConfig) (http.Handler, error) {
	authenticator, err := mcpserver.BuildAuthenticator(cfg)
	if err != nil {
		return nil, err
	}
	if authenticator == nil {
		return handler, nil
	}
	handler = mw.AuthenticateMiddleware(authenticator, cfg.AllowAnonymous)(handler)
	handler = mw.AuthMiddleware(!cfg.AllowAnonymous)(handler)
	return handler, nil
}
