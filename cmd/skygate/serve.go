package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/auth"
	"github.com/skygate-io/skygate/pkg/budget"
	cachepkg "github.com/skygate-io/skygate/pkg/cache/sqlite"
	"github.com/skygate-io/skygate/pkg/catalog"
	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/config"
	"github.com/skygate-io/skygate/pkg/history"
	"github.com/skygate-io/skygate/pkg/mcp"
	"github.com/skygate-io/skygate/pkg/observe"
	"github.com/skygate-io/skygate/pkg/order"
	"github.com/skygate-io/skygate/pkg/token"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio plus the auth web listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to skygate config file")
	return cmd
}

func serve(cfg *config.Config) error {
	// stdout carries the MCP protocol; everything else goes to stderr.
	logger := pslog.NewStructured(os.Stderr).With("app", "skygate")
	clk := clock.System{}

	registry := prometheus.NewRegistry()
	metrics := observe.New(registry)

	store := token.NewStore(clk, logger, metrics)
	sweeper := token.NewSweeper(store, clk, logger, cfg.Sweep.Interval.Std(), cfg.Sweep.RedeemedGrace.Std())
	sweeper.Start()
	defer sweeper.Close()

	guard := budget.NewGuard(cfg.Budget.Limits(), clk, logger, metrics)

	cat := catalog.NewClient(catalog.Config{
		URL:             cfg.Catalog.URL,
		Timeout:         cfg.Catalog.Timeout.Std(),
		ForceLowestCost: cfg.Catalog.ForceLowestCost,
	}, logger)

	var search mcp.Searcher = cat
	if cfg.Cache.Enabled {
		searchCache, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL.Std())
		if err != nil {
			return fmt.Errorf("init search cache: %w", err)
		}
		defer func() { _ = searchCache.Close() }()
		search = catalog.NewCachedSearcher(cat, searchCache, logger)
	}

	hist, err := history.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer func() { _ = hist.Close() }()

	sessionID := uuid.NewString()
	sessions := auth.NewSessions()
	if cfg.Catalog.APIKey != "" {
		sessions.Seed(sessionID, cfg.Catalog.APIKey, clk.Now())
		logger.Info("auth.seeded_from_config", "session", sessionID)
	}

	authBroker := auth.NewBroker(store, sessions, cat, clk, logger, cfg.PublicURL, cfg.Auth.LinkTTL.Std())
	orderBroker := order.NewBroker(store, guard, cat, sessions, hist, clk, logger, metrics,
		cfg.Orders.QuoteTTL.Std(), cfg.Orders.EnableOrdering)

	mux := http.NewServeMux()
	auth.NewWebHandler(authBroker, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: mux}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("web.listen", "addr", cfg.Listen, "public_url", cfg.PublicURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	srv := mcp.New(mcp.Deps{
		Auth:      authBroker,
		Sessions:  sessions,
		Orders:    orderBroker,
		Guard:     guard,
		Search:    search,
		History:   hist,
		Logger:    logger,
		Version:   version,
		SessionID: sessionID,
	})

	logger.Info("mcp.serve",
		"session", sessionID,
		"ordering_enabled", cfg.Orders.EnableOrdering,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx, os.Stdin, os.Stdout) }()

	select {
	case err := <-httpErr:
		return fmt.Errorf("web listener: %w", err)
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}
