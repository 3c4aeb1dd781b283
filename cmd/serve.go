package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/api"
	queuememory "github.com/JakeFAU/healthsync/internal/queue/memory"
	"github.com/JakeFAU/healthsync/internal/runstore"
	"github.com/JakeFAU/healthsync/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger for on-demand syncs",
		Long: `Starts an HTTP server that queues sync requests and runs them one at a time,
along with health and Prometheus endpoints.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	ctx := cmd.Context()

	queue := queuememory.NewQueue(cfg.Server.QueueDepth)
	runs := runstore.New(cfg.Server.RunHistory)
	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	server := api.NewServer(queue, runs, appInstance.Registry(), appInstance.IDs(), appInstance.Clock(), api.Config{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("worker started")
		worker.New(queue, appInstance.Runner(), runs, appInstance.Clock(), logger).Run(workerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	stopWorker()
	wg.Wait()
	logger.Info("shutdown complete")
	return runErr
}
