// Package ingest wires the ingester: notification source, ingestion
// pipeline, audit janitor and the status HTTP surface.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/buildinfo"
	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/ingest/audit"
	"github.com/dmitrijs2005/photoimport/internal/ingest/blob"
	"github.com/dmitrijs2005/photoimport/internal/ingest/config"
	"github.com/dmitrijs2005/photoimport/internal/ingest/credentials"
	"github.com/dmitrijs2005/photoimport/internal/ingest/dam"
	"github.com/dmitrijs2005/photoimport/internal/ingest/metrics"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/ingest/notify"
	"github.com/dmitrijs2005/photoimport/internal/ingest/pipeline"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/repomanager"
	"github.com/dmitrijs2005/photoimport/internal/ingest/status"
	"github.com/dmitrijs2005/photoimport/internal/ingest/vault"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"github.com/dmitrijs2005/photoimport/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName     = "photoimport-ingester"
	refreshLockTTL  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	config *config.Config
	logger logging.Logger

	db       *sql.DB
	vault    *vault.SQLiteVault
	redis    *redis.Client
	audit    *audit.Log
	pipeline *pipeline.Pipeline
	source   *notify.Source
	status   *status.Handler

	shutdownTracer tracing.ShutdownFunc
}

func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	loc, err := time.LoadLocation(c.CaptureTimezone)
	if err != nil {
		return nil, fmt.Errorf("capture timezone: %w", err)
	}

	app := &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.shutdownTracer, err = tracing.InitTracer(ctx, serviceName, buildinfo.Version, c.TracingEndpoint)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	app.db, err = repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("db migrations: %w", err)
	}
	records := rm.Assets(app.db)
	calls := rm.ApiCalls(app.db)

	app.vault, err = vault.Open(ctx, c.VaultPath, c.VaultPassphrase)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	clock := clockx.RealClock{}
	app.audit = audit.NewLog(calls, clock, c.APICallRetention, m, logger)

	httpClient := &http.Client{
		Timeout:   c.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	credOpts := []credentials.Option{credentials.WithMetrics(m)}
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		credOpts = append(credOpts, credentials.WithLocker(credentials.NewRedisLocker(app.redis, refreshLockTTL)))
	}
	exchanger := credentials.NewHTTPExchanger(c.TokenURL, c.StatusRedirectURL, httpClient, app.audit)
	creds := credentials.NewManager(app.vault, exchanger, c.ClientID, c.TokenLookahead, logger, credOpts...)

	s3Client, err := blob.NewS3Client(ctx, c.S3Region, c.S3RootUser, c.S3RootPassword, c.S3BaseEndpoint)
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	minioClient, err := notify.NewMinioClient(c.S3BaseEndpoint, c.S3RootUser, c.S3RootPassword, c.S3Region)
	if err != nil {
		return nil, err
	}

	remote := dam.NewClient(c.DAMBaseURL, c.CatalogID, app.audit, logger,
		dam.WithHTTPClient(httpClient),
		dam.WithUploadAttempts(c.UploadAttempts))

	app.pipeline = pipeline.New(creds, blob.NewStore(s3Client), remote, records, pipeline.Settings{
		PrefixLimit: c.PrefixLimit,
		Location:    loc,
		AccountID:   c.AccountID,
		DeviceTag:   c.DeviceTag,
	}, logger, pipeline.WithMetrics(m))

	app.source = notify.NewSource(minioClient, c.WatchBucket, c.WatchPrefix, c.WatchSuffix,
		c.ArrivalMetadataKey, c.MaxConcurrent, logger)
	app.status = status.NewHandler(creds, calls, records, reg, c.StatusRedirectURL, clock, logger)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) handle(ctx context.Context, n models.Notification) error {
	_, err := app.pipeline.Handle(ctx, n)
	return err
}

func (app *App) startStatusServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:         app.config.StatusAddr,
		Handler:      app.status.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping status server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(sctx, "status server shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting status server", "address", app.config.StatusAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startSource(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.source.Run(ctx, app.handle); err != nil {
		app.logger.Error(ctx, "notification source stopped", "error", err)
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or a component fails, then
// drains in-flight invocations.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "version", buildinfo.Version)
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startStatusServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startSource(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.audit.Janitor(ctx, app.config.JanitorInterval)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
}

// Close releases every handle opened by NewApp. Safe on a partially built App.
func (app *App) Close() error {
	var errs []error
	if app.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, app.shutdownTracer(ctx))
		cancel()
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.vault != nil {
		errs = append(errs, app.vault.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	return errors.Join(errs...)
}
