package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"orderdocs/internal/api"
	"orderdocs/internal/batch"
	"orderdocs/internal/config"
	fileutil "orderdocs/internal/file"
	"orderdocs/internal/orderapi"
)

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	router := setupRouter()

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.OrderAPI.BaseURL == "" {
		log.Fatal().Msg("order_api.base_url is required")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	batchManager := buildBatchManager(cfg)
	wireAPI(router, batchManager)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	batchManager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 15 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, batchManager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildBatchManager(cfg config.Config) *batch.Manager {
	client := orderapi.NewClient(orderapi.Options{
		BaseURL:            cfg.OrderAPI.BaseURL,
		RequestsPerSecond:  cfg.OrderAPI.RequestsPerSecond,
		Burst:              cfg.OrderAPI.Burst,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	})

	bm := batch.NewManagerWithOptions(batch.Options{
		DataDir:               cfg.DataDir,
		Client:                client,
		OrderIDPrefix:         cfg.OrderIDPrefix,
		MaxBatchSize:          cfg.MaxBatchSize,
		WorkerPoolSize:        cfg.WorkerPoolSize,
		AttachmentConcurrency: cfg.AttachmentConcurrency,
		MaxConcurrentBatches:  cfg.MaxConcurrentBatches,
		BatchDeadline:         cfg.BatchDeadline.Std(),
		GracePeriod:           cfg.GracePeriod.Std(),
		RetryMaxAttempts:      cfg.Retry.MaxAttempts,
		RetryBaseDelay:        cfg.Retry.BaseDelay.Std(),
		RetryMaxDelay:         cfg.Retry.MaxDelay.Std(),
		AssetByteBudget:       cfg.AssetByteBudget,
		JPEGQuality:           cfg.JPEGQuality,
		MaxDimension:          cfg.MaxDimension,
	})

	if err := bm.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("load persisted batches failed")
	}
	return bm
}

func wireAPI(router *gin.Engine, bm *batch.Manager) {
	apiHandler := api.NewAPI(bm)
	apiHandler.RegisterRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, bm *batch.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := bm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background batch workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
