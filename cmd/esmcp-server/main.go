// Command esmcp-server serves the Elasticsearch federation tools over the
// tool protocol.
//
// Startup sequence:
//  1. Load configuration from environment variables (and the hosts file).
//  2. Open the search audit store.
//  3. Build the direct cluster clients, the intermediary client and the
//     search service with its direct-path fallback.
//  4. Register the tools and wrap them in the protocol handler.
//  5. Serve over HTTP (event streams and websockets), or over stdin/stdout
//     with -stdio.
//
// With -stdio ALL logging goes to stderr; stdout carries only protocol
// frames.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/esmcp/internal/api/mcp"
	"github.com/scrypster/esmcp/internal/audit"
	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/connections"
	"github.com/scrypster/esmcp/internal/esclient"
	"github.com/scrypster/esmcp/internal/federation"
	"github.com/scrypster/esmcp/internal/llm"
	"github.com/scrypster/esmcp/internal/server"
	"github.com/scrypster/esmcp/internal/tools"
)

var (
	stdio     = flag.Bool("stdio", false, "Serve JSON-RPC on stdin/stdout instead of HTTP")
	hostsFile = flag.String("hosts", "", "Path to a YAML hosts file (overrides ESMCP_HOSTS_FILE)")
)

// app holds everything main wires together.
type app struct {
	cfg     *config.Config
	handler *mcp.Handler
	store   *audit.Tracked
	clients *esclient.Manager
	schema  *tools.SchemaTool
}

// newApp wires the service graph from cfg. It performs no network I/O.
func newApp(cfg *config.Config) (*app, error) {
	opened, err := audit.Open(cfg.Audit)
	if err != nil {
		return nil, err
	}
	// Close drains records still being written.
	store := audit.Track(opened)

	clients := esclient.NewManager(cfg.Elasticsearch)
	direct := federation.NewDirectExecutor(clients)

	var jobs federation.JobExecutor
	if cfg.Redash.Enabled() {
		jobs = federation.NewRedashClient(cfg.Redash)
	} else {
		log.Printf("Warning: ESMCP_REDASH_URL not set, searches go straight to the clusters")
	}
	service := federation.NewService(jobs, direct, cfg.Redash.MaxConcurrentSearches)

	selector := federation.NewSelector(cfg.Tiers, federation.WithDataSources(cfg.Elasticsearch.Hosts))

	generator := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.LLM.OllamaURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})

	schema := tools.NewSchemaTool(cfg.Schema.File)

	registry := tools.NewRegistry(
		tools.NewSearchTool(service, selector,
			tools.WithAudit(store),
			tools.WithDefaultIndices(cfg.Elasticsearch.DefaultIndices),
			tools.WithSizeLimits(cfg.Elasticsearch.DefaultSize, cfg.Elasticsearch.MaxSize)),
		tools.NewHostSearchTool(selector, cfg.Elasticsearch.Hosts),
		tools.NewIndicesTool(selector, cfg.Elasticsearch.IndexPattern),
		schema,
		tools.NewQueryTool(generator, selector.Now),
	).Filter(cfg.MCP.EnabledTools)

	handler := mcp.NewHandler(registry, tools.NewMapper(),
		mcp.WithServerInfo(cfg.MCP.Name, cfg.MCP.Version))

	return &app{
		cfg:     cfg,
		handler: handler,
		store:   store,
		clients: clients,
		schema:  schema,
	}, nil
}

func (a *app) Close() {
	a.schema.Close()
	if err := a.clients.CloseAll(); err != nil {
		log.Printf("failed to close cluster clients: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("failed to close audit store: %v", err)
	}
}

func main() {
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetPrefix("esmcp: ")
	log.SetFlags(log.LstdFlags)

	if *hostsFile != "" {
		if err := os.Setenv("ESMCP_HOSTS_FILE", *hostsFile); err != nil {
			log.Fatalf("failed to set hosts file: %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}
	defer a.Close()

	if err := a.schema.Watch(); err != nil {
		log.Printf("Warning: schema file will not be reloaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *stdio {
		log.Println("ready, serving JSON-RPC 2.0 on stdin/stdout")
		transport := mcp.NewStdioTransport(a.handler, os.Stdin, os.Stdout)
		if err := transport.Serve(ctx); err != nil {
			log.Printf("transport stopped: %v", err)
		}
		return
	}

	conns := connections.NewRegistry(connections.WithMaxConnections(cfg.Server.MaxConnections))
	srv := server.New(cfg.Server, a.handler, conns,
		server.WithAuditStore(a.store),
		server.WithBreakerStates(a.clients.BreakerStates))

	addr, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
	log.Printf("%s %s serving %d tools at http://%s/mcp/sse",
		cfg.MCP.Name, cfg.MCP.Version, a.handler.Registry().Count(), addr)

	<-ctx.Done()
	log.Println("shutting down gracefully...")
	time.Sleep(1 * time.Second) // let the server drain streams
}
