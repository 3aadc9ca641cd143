package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/streaming-auth-service/internal/config"
	"github.com/iliyamo/streaming-auth-service/internal/handler"
	"github.com/iliyamo/streaming-auth-service/internal/metrics"
	"github.com/iliyamo/streaming-auth-service/internal/middleware"
	"github.com/iliyamo/streaming-auth-service/internal/queue"
	"github.com/iliyamo/streaming-auth-service/internal/router"
	"github.com/iliyamo/streaming-auth-service/internal/service"
	"github.com/iliyamo/streaming-auth-service/internal/utils"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, config.Load(), autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "create the users table before serving")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, autoMigrate bool) error {
	logger := slog.Default().With("env", cfg.Env)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
	}
	defer st.close()
	if autoMigrate {
		if err := st.migrate(ctx); err != nil {
			return err
		}
	}

	hasher, err := utils.NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}
	access, refresh, err := utils.NewSignerPair(
		utils.SignerConfig{Secret: []byte(cfg.JWTAccessSecret), TTL: cfg.AccessTTL, Issuer: cfg.JWTIssuer},
		utils.SignerConfig{Secret: []byte(cfg.JWTRefreshSecret), TTL: cfg.RefreshTTL, Issuer: cfg.JWTIssuer},
	)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := service.NewEngine(st.store, hasher, access, refresh, service.Options{
		Logger:  logger,
		Metrics: metrics.NewAuth(reg),
	})
	if err != nil {
		return err
	}

	var events queue.Publisher = queue.Nop{}
	if cfg.EventsEnabled {
		pub := queue.NewAMQPPublisher(cfg.AMQPURL, logger)
		defer pub.Close()
		events = pub
	}

	ready := map[string]handler.Pinger{"store": st.ping}
	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else if cfg.RateLimit.Enabled {
		logger.Warn("redis unreachable, rate limiting disabled", "addr", cfg.Redis.Address())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(requestLogger(logger))
	e.Use(middleware.Metrics(metrics.NewHTTP(reg)))

	router.RegisterRoutes(e, ready, reg)
	router.RegisterAuth(e,
		handler.NewAuthHandler(engine, events, cfg.RequestTimeout, logger),
		engine,
		middleware.NewTokenBucket(cfg.RateLimit, rdb, engine),
	)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "store", cfg.StoreDriver, "hasher", cfg.PasswordHasher)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", "error", err)
	}
	return nil
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				logger.LogAttrs(c.Request().Context(), slog.LevelWarn, "request", slog.Group("http", attrs...), slog.String("error", v.Error.Error()))
				return nil
			}
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", slog.Group("http", attrs...))
			return nil
		},
	})
}
