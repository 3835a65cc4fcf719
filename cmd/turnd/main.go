// Command turnd is the HTTP front for the turn core: one POST /turn
// endpoint per spec §6, dispatched through the session controller so
// concurrent messages for the same (bot, user) pair serialize correctly.
// Wiring follows the teacher's cmd/soul-server/main.go: env-sourced
// ServerConfig, chi router, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"turncore/internal/config"
	"turncore/internal/evolve"
	"turncore/internal/graph"
	"turncore/internal/llm"
	"turncore/internal/memory"
	"turncore/internal/mood"
	"turncore/internal/search"
	"turncore/internal/session"
	"turncore/internal/stage"
	"turncore/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Fatal("load config failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("connect postgres failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("migrate postgres failed", zap.Error(err))
	}

	qdrantHost, qdrantPort := splitHostPort(cfg.QdrantAddr, 6334)
	qdrantStore, err := memory.NewStore(memory.Config{Host: qdrantHost, Port: qdrantPort})
	if err != nil {
		logger.Fatal("connect qdrant failed", zap.Error(err))
	}
	defer qdrantStore.Close()
	if err := qdrantStore.EnsureCollection(ctx, 1536); err != nil {
		logger.Fatal("ensure qdrant collection failed", zap.Error(err))
	}

	backend := newLLMBackend(cfg)
	invoker := llm.NewRetryingInvoker(backend, llm.DefaultRoleTimeouts(), logger)

	searchCfg := search.DefaultConfig()
	if cfg.LATSConfigPath != "" {
		if loaded, err := config.LoadLATSConfig(cfg.LATSConfigPath); err != nil {
			logger.Warn("lats config load failed, using defaults", zap.Error(err))
		} else {
			searchCfg = loaded
		}
	}
	searchEngine := search.NewEngine(invoker, searchCfg, logger)

	profileLoader := config.NewStageProfileLoader(cfg.StageProfilesPath, logger)
	if err := profileLoader.Load(); err != nil {
		logger.Warn("stage profile load failed, using built-in defaults", zap.Error(err))
	}
	stageManager := stage.NewManager(profileLoader.Table())

	evolver := evolve.NewEngine(invoker, logger)

	embedder := memory.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, "text-embedding-3-small")
	retriever := memory.NewRetriever(qdrantStore, embedder, 5, logger)

	moodEngine := mood.NewEngine(mood.DefaultConfig())

	deps := &graph.Deps{
		Invoker:      invoker,
		Mood:         moodEngine,
		SearchEngine: searchEngine,
		Evolver:      evolver,
		StageManager: stageManager,
		Retriever:    retriever,
		Store:        db,
		Logger:       logger,
		MaxMessages:  4,
		MinFirstLen:  1,
	}

	turnGraph, err := graph.Build(ctx, deps)
	if err != nil {
		logger.Fatal("build turn graph failed", zap.Error(err))
	}

	emitter := session.NoopEmitter{}
	controller := session.NewController(turnGraph, emitter, logger)
	controller.SetQueueDepth(cfg.SessionQueueDepth)
	deps.SupersededFunc = controller.IsSuperseded

	h := newHandler(controller, logger, cfg.TurnTimeout)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/turn", h.handleTurn)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("turnd started", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
}

func newLLMBackend(cfg config.ServerConfig) llm.Invoker {
	modelByRole := map[llm.Role]string{
		llm.RoleMain:      cfg.LLMModel,
		llm.RoleFast:      cfg.LLMModel,
		llm.RoleJudge:     cfg.LLMModel,
		llm.RoleProcessor: cfg.LLMModel,
	}
	if strings.EqualFold(cfg.LLMProvider, "claude") {
		return llm.NewClaudeBackend(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, modelByRole)
	}
	return llm.NewOpenAIBackend(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, modelByRole)
}

// splitHostPort parses "host:port" into its parts, falling back to the
// whole string as the host and defaultPort when no port is present (the
// shape QDRANT_ADDR's default, "localhost:6334", always has, but an
// operator-supplied override might not).
func splitHostPort(addr string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
