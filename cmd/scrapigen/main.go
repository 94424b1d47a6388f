package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrapigen/scrapigen/api"
	"github.com/scrapigen/scrapigen/cache"
	"github.com/scrapigen/scrapigen/cleaner"
	"github.com/scrapigen/scrapigen/config"
	"github.com/scrapigen/scrapigen/engine"
	"github.com/scrapigen/scrapigen/fetch"
	"github.com/scrapigen/scrapigen/llm"
	"github.com/scrapigen/scrapigen/render"
	"github.com/scrapigen/scrapigen/rules"
)

// minHTMLLength is the default per-domain content threshold applied when
// no rule pins one.
const minHTMLLength = 1000

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("scrapigen starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxSessions", cfg.Pool.MaxSessions,
	)

	// ── 3. Domain rules ─────────────────────────────────────────────
	ruleList := rules.Builtin()
	if cfg.Rules.FilePath != "" {
		loaded, err := rules.LoadFile(cfg.Rules.FilePath)
		if err != nil {
			slog.Error("failed to load rules file", "path", cfg.Rules.FilePath, "error", err)
			os.Exit(1)
		}
		ruleList = loaded
		slog.Info("domain rules loaded from file", "path", cfg.Rules.FilePath, "count", len(loaded))
	}
	// The default rule carries no BlockResources opinion; the engine-wide
	// BLOCK_RESOURCES default governs unmatched hosts.
	defaultRule := rules.DomainRule{HTMLThreshold: minHTMLLength}
	store := rules.NewStore(defaultRule, ruleList)

	// ── 4. Renderer (launches browser) ──────────────────────────────
	renderer, err := render.New(cfg.Browser, cfg.Pool)
	if err != nil {
		slog.Error("failed to initialise renderer", "error", err)
		os.Exit(1)
	}
	defer renderer.Close()

	// ── 5. Cache, fetcher, pipeline ─────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Close()

	fetcher := fetch.New(cfg.Browser.DefaultProxy)
	orchestrator := engine.NewOrchestrator(cfg.Engine, cfg.Cache.TTL, store, cc, fetcher, renderer)

	cl := cleaner.New()
	llmClient := llm.NewClient(&http.Client{Timeout: 120 * time.Second})

	// ── 6. Router and HTTP server ───────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(orchestrator, renderer, cl, llmClient, cfg, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// renderer.Close() runs via defer — drains the session pool and
	// kills Chromium.
	slog.Info("scrapigen stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
