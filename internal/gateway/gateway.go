// ABOUTME: Gateway wiring: builds stores, collaborators, bots, and the HTTP server
// ABOUTME: Manages startup, graceful shutdown, and health endpoints

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/scout-gateway/internal/bot"
	"github.com/2389/scout-gateway/internal/config"
	"github.com/2389/scout-gateway/internal/ledger"
	"github.com/2389/scout-gateway/internal/llm"
	"github.com/2389/scout-gateway/internal/memory"
	"github.com/2389/scout-gateway/internal/search"
	"github.com/2389/scout-gateway/internal/session"
)

// Bot path segments accepted by the turn API.
const (
	botGrounded = "grounded"
	botResearch = "research"
	botPolicy   = "policy"
)

// Gateway owns the HTTP server and everything a turn needs: the session
// registry, the memory store, the audit ledger, and one Bot per route.
type Gateway struct {
	config     *config.Config
	registry   *session.Registry
	store      memory.Store
	audit      ledger.Ledger
	bots       map[string]bot.Bot
	pageCache  *search.CachedSearcher
	httpServer *http.Server
	logger     *slog.Logger
}

// components holds the pieces New assembles; tests inject fakes here.
type components struct {
	Registry  *session.Registry
	Store     memory.Store
	Audit     ledger.Ledger
	Bots      map[string]bot.Bot
	PageCache *search.CachedSearcher
}

// New creates a fully wired Gateway from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	store, err := memory.NewPebbleStore(cfg.Database.MemoryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing memory store: %w", err)
	}

	audit, err := ledger.NewSQLiteLedger(cfg.Database.LedgerPath, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing turn ledger: %w", err)
	}

	gen, err := llm.NewGeminiGenerator(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout, logger)
	if err != nil {
		_ = store.Close()
		_ = audit.Close()
		return nil, fmt.Errorf("initializing generator: %w", err)
	}
	pricing := llm.Pricing{
		PromptPer1K:     cfg.LLM.PromptCostPer1K,
		CompletionPer1K: cfg.LLM.CompletionCostPer1K,
	}

	grounder := search.NewHTTPGrounder(cfg.Grounding.BaseURL, cfg.Grounding.MaxSnippets, cfg.Grounding.Timeout, logger)

	var searcher search.WebSearcher = search.NewDuckDuckGoSearcher(cfg.Research.FetchesPerSecond, logger)
	var pageCache *search.CachedSearcher
	if cfg.Database.CachePath != "" {
		pageCache, err = search.NewCachedSearcher(searcher, cfg.Database.CachePath, time.Hour, logger)
		if err != nil {
			_ = store.Close()
			_ = audit.Close()
			return nil, fmt.Errorf("initializing page cache: %w", err)
		}
		searcher = pageCache
	}

	registry := session.NewRegistry(logger)
	locks := memory.NewKeyedMutex()

	grounded := bot.NewRuntime(bot.RuntimeConfig{
		Strategy: bot.NewGroundedStrategy(grounder),
		Store:    store,
		Locks:    locks,
		Emitter:  registry,
		Gen:      gen,
		Pricing:  pricing,
		Audit:    audit,
		Timeout:  cfg.Research.TurnTimeout,
		Logger:   logger,
	})
	research := bot.NewRuntime(bot.RuntimeConfig{
		Strategy: bot.NewResearchStrategy(searcher, gen, pricing, bot.ResearchTunables{
			NumberOfSelectQueries:       cfg.Research.SelectQueries,
			PercentOfTopQueriesToSearch: cfg.Research.QueryFraction,
			PercentOfTopResultsToScan:   cfg.Research.ResultFraction,
		}, cfg.Research.ResultsPerQuery, cfg.Research.MaxConcurrency),
		Store:    store,
		Locks:    locks,
		Emitter:  registry,
		Gen:      gen,
		Pricing:  pricing,
		Audit:    audit,
		Timeout:  cfg.Research.TurnTimeout,
		Logger:   logger,
	})
	policy := bot.NewOrchestrator(bot.OrchestratorConfig{
		Grounded:   grounded,
		Research:   research,
		Store:      store,
		Locks:      locks,
		Emitter:    registry,
		Gen:        gen,
		Pricing:    pricing,
		Audit:      audit,
		SubTimeout: cfg.Research.SubCallTimeout,
		Timeout:    cfg.Research.TurnTimeout,
		Logger:     logger,
	})

	return newWithComponents(cfg, components{
		Registry: registry,
		Store:    store,
		Audit:    audit,
		Bots: map[string]bot.Bot{
			botGrounded: grounded,
			botResearch: research,
			botPolicy:   policy,
		},
		PageCache: pageCache,
	}, logger), nil
}

func newWithComponents(cfg *config.Config, c components, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config:    cfg,
		registry:  c.Registry,
		store:     c.Store,
		audit:     c.Audit,
		bots:      c.Bots,
		pageCache: c.PageCache,
		logger:    logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// routes builds the HTTP router.
func (g *Gateway) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", g.handleWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/api/bots/{bot}", g.handleTurn).Methods(http.MethodPut)
	r.HandleFunc("/api/bots/{bot}/{memoryId}", g.handleMemory).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/usage", g.handleUsageStats).Methods(http.MethodGet)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		_ = g.shutdown()
		return err
	}

	return g.shutdown()
}

// shutdown performs graceful shutdown with a fresh context; the original
// one is already canceled by the time we get here.
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases storage resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.registry.Close()

	if g.pageCache != nil {
		errs = appendCloseError(errs, "page cache close", g.pageCache.Close())
	}
	errs = appendCloseError(errs, "memory store close", g.store.Close())
	if g.audit != nil {
		errs = appendCloseError(errs, "ledger close", g.audit.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
