package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/workforce-ai/compute/internal/api"
	"github.com/workforce-ai/compute/internal/app/executor"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides [api] host and port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the compute HTTP API. UI panels call it to read the balance,
charge feature uses and run paid feature jobs. If --user is given, that
identity is logged in at startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	ephemeral, _ := cmd.Flags().GetBool("ephemeral")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, ephemeral, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.db != nil {
		if n, err := rt.db.FailStaleJobs(time.Now()); err != nil {
			logger.Warn("fail stale jobs", "error", err)
		} else if n > 0 {
			logger.Info("marked interrupted jobs failed", "count", n)
		}
	}

	if u, _ := cmd.Flags().GetString("user"); u != "" {
		if _, err := rt.store.Login(ctx, u); err != nil {
			return fmt.Errorf("login %s: %w", u, err)
		}
	}

	exec := executor.New(executor.Config{
		MaxConcurrent:  cfg.Executor.MaxConcurrent,
		DefaultTimeout: cfg.JobTimeout(),
	}, rt.store, rt.jobs, logger)
	features := make([]string, 0, len(cfg.Backends))
	for feature, url := range cfg.Backends {
		exec.RegisterBackend(feature, executor.NewWebhookBackend(url))
		features = append(features, feature)
	}
	sort.Strings(features)

	hub := api.NewLiveHub()
	rt.store.Subscribe(hub.Listener())

	srv := api.NewServer(rt.store, logger)
	srv.SetLiveHub(hub)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}
	if len(features) > 0 {
		srv.SetJobRunner(exec)
	}

	addr := cfg.Addr()
	if a, _ := cmd.Flags().GetString("addr"); a != "" {
		addr = a
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(hub.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "features", features, "metrics", cfg.API.Metrics)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	exec.Wait()
	return nil
}
