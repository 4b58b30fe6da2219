package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"anomalyd/internal/config"
	"anomalyd/internal/db"
	"anomalyd/internal/http/handlers"
	appmw "anomalyd/internal/http/middleware"
	"anomalyd/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only anomaly API and prune old anomalies daily",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}

			gdb, err := db.Connect(cfg)
			if err != nil {
				return fmt.Errorf("connect store: %w", err)
			}
			defer func() { _ = db.Close(gdb) }()

			reg, rec, err := newServeRegistry(gdb)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db.StartRetentionWorker(ctx, gdb, cfg.RetentionDays, a.log, rec.AddRetentionDeleted)

			srv := &fasthttp.Server{
				Handler:      newAPIHandler(gdb, cfg, reg, rec, a.log),
				Name:         "anomalyd",
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("anomalyd listening", zap.String("addr", cfg.ListenAddr))
				errCh <- srv.ListenAndServe(cfg.ListenAddr)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.ShutdownWithContext(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address (overrides APP_LISTEN_ADDR)")
	return cmd
}

// newServeRegistry collects runtime metrics, API traffic and the per-service
// anomaly counts read from the store at scrape time.
func newServeRegistry(gdb *gorm.DB) (*prometheus.Registry, *metrics.ServerRecorder, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewStoredAnomalies(func(ctx context.Context) (map[string]int64, error) {
			return db.CountAnomaliesByService(ctx, gdb)
		}),
	)
	rec, err := metrics.NewServer(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, rec, nil
}

// newAPIHandler builds the router behind the request id and request
// logging middleware. Only /healthz and /metrics are served without a
// token when APP_API_TOKEN_HASH is set.
func newAPIHandler(gdb *gorm.DB, cfg *config.Config, reg prometheus.Gatherer, rec *metrics.ServerRecorder, log *zap.Logger) fasthttp.RequestHandler {
	r := router.New()
	auth := appmw.BearerAuth(cfg.APITokenHash)

	r.GET("/healthz", handlers.Named("/healthz", handlers.Healthz(gdb)))
	r.GET("/metrics", handlers.Named("/metrics", handlers.PrometheusMetrics(reg)))
	r.GET("/v1/anomalies", handlers.Named("/v1/anomalies", auth(handlers.ListAnomalies(gdb))))
	r.GET("/v1/anomalies/{id}", handlers.Named("/v1/anomalies/{id}", auth(handlers.GetAnomaly(gdb))))

	return appmw.RequestID(handlers.RequestLogger(log, rec)(r.Handler))
}
