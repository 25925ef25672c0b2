// Command symbolicate runs the symbolication HTTP service: it wires
// configuration, logging, metrics, the disk cache, downloader, and
// symbolicator into a gorilla/mux router and serves it until an
// interrupt requests a graceful shutdown.
//
// Grounded on grafana-pyroscope's cmd/root.go for the cobra command
// tree and logging setup, and pkg/server/controller.go's
// Start/Stop pair for the http.Server lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/mozilla-services/eliot/pkg/api"
	"github.com/mozilla-services/eliot/pkg/build"
	"github.com/mozilla-services/eliot/pkg/config"
	"github.com/mozilla-services/eliot/pkg/diskcache"
	"github.com/mozilla-services/eliot/pkg/downloader"
	"github.com/mozilla-services/eliot/pkg/health"
	"github.com/mozilla-services/eliot/pkg/logging"
	"github.com/mozilla-services/eliot/pkg/metrics"
	"github.com/mozilla-services/eliot/pkg/symbolicator"
)

var rootCmd = &cobra.Command{
	Use:   "symbolicate",
	Short: "Convert crash-report memory addresses into symbol information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(build.Summary())
		return nil
	},
}

func main() {
	rootCmd.AddCommand(versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.Setup(cfg.LogLevel)
	logger.WithField("version", build.Version).Info("starting eliot symbolicate")

	sink, err := newMetricsSink(cfg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if closer, ok := sink.(*metrics.StatsD); ok {
		defer closer.Close()
	}

	cache, err := diskcache.Open(diskcache.Config{
		Root:        cfg.DiskCacheRoot,
		MaxBytes:    cfg.DiskCacheMaxBytes,
		NegativeTTL: cfg.NegativeCacheTTL,
		WarmScan:    cfg.DiskCacheWarmScan,
	}, sink)
	if err != nil {
		return fmt.Errorf("diskcache: %w", err)
	}

	dl := downloader.New(downloader.Config{
		Sources:           cfg.SymbolURLs,
		PerAttemptTimeout: time.Duration(cfg.DownloaderTimeoutMS) * time.Millisecond,
		Retries:           cfg.DownloaderRetries,
	}, sink)

	sym := symbolicator.New(symbolicator.Config{
		MaxConcurrentModules: cfg.MaxConcurrentModules,
		RequestDeadline:      time.Duration(cfg.SymbolicateRequestDeadlineMS) * time.Millisecond,
	}, cache, dl, sink, symcacheFormatVersion)

	apiHandler := api.New(api.Config{MaxJobs: cfg.SymbolicateMaxJobs}, sym, sink, logger)

	healthCond := &health.DiskCacheCondition{
		Source:    cache,
		WarnRatio: 0.8,
		CritRatio: 0.95,
	}
	controller := health.NewController([]health.Condition{healthCond}, 30*time.Second, logger)
	go controller.Start()
	defer controller.Stop()
	healthHandler := health.NewHandler(controller)

	router := mux.NewRouter()
	apiHandler.Register(router)
	healthHandler.Register(router)
	router.Use(func(next http.Handler) http.Handler {
		return logging.WithRequestID(logger, next.ServeHTTP)
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sigCh:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// symcacheFormatVersion is bumped whenever the on-disk symcache
// binary layout changes incompatibly, invalidating existing cache
// entries without needing to flush the cache directory by hand.
const symcacheFormatVersion = 1

func newMetricsSink(cfg *config.Config) (metrics.Sink, error) {
	if cfg.StatsDHost == "" {
		return metrics.Noop{}, nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.StatsDHost, cfg.StatsDPort)
	sink, err := metrics.New(addr, "eliot")
	if err != nil {
		logrus.WithError(err).Warn("statsd unavailable, falling back to noop metrics")
		return metrics.Noop{}, nil
	}
	return sink, nil
}
