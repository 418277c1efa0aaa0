// Package server wires the configuration, storage, auth services and
// transports together and runs them until the process is told to stop.
package server

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

	"github.com/dmitrijs2005/usersvc/internal/logging"
	"github.com/dmitrijs2005/usersvc/internal/server/auth"
	"github.com/dmitrijs2005/usersvc/internal/server/config"
	"github.com/dmitrijs2005/usersvc/internal/server/delivery"
	"github.com/dmitrijs2005/usersvc/internal/server/httpapi"
	"github.com/dmitrijs2005/usersvc/internal/server/metrics"
	"github.com/dmitrijs2005/usersvc/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/usersvc/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	gs "github.com/dmitrijs2005/usersvc/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    redis.UniversalClient
	registry *prometheus.Registry
	issuer   *auth.TokenIssuer
	auth     *services.AuthService
}

// NewApp connects to the database, applies migrations and builds the
// service graph. Nothing is served until Run.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := connectDB(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db connect error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	if err := app.wire(rm); err != nil {
		_ = app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) wire(rm repomanager.RepositoryManager) error {
	c := app.config

	issuer, err := auth.NewTokenIssuer(auth.IssuerConfig{
		Secret:   []byte(c.SecretKey),
		Issuer:   c.Issuer,
		Audience: c.Audience,
		TTL:      c.AccessTokenValidityDuration,
		Leeway:   c.ClockSkew,
	})
	if err != nil {
		return err
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewAuth(app.registry)
	if err != nil {
		return fmt.Errorf("metrics init error: %w", err)
	}

	var d delivery.CredentialDelivery = delivery.Nop{}
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		d = delivery.NewRedisOutbox(app.redis, c.RedisStream, 0)
	}

	refresh := services.NewRefreshTokenManager(rm, services.RefreshTokenPolicy{
		LoginValidity:   c.LoginRefreshTokenValidityDuration,
		RotatedValidity: c.RotatedRefreshTokenValidityDuration,
	})

	svc, err := services.NewAuthService(app.db, rm, services.AuthDeps{
		Hasher:   auth.NewArgon2idHasher(auth.DefaultArgon2Params),
		Issuer:   issuer,
		Refresh:  refresh,
		Delivery: d,
		Logger:   app.logger,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	app.issuer = issuer
	app.auth = svc
	return nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// connectDB pings until the database answers, backing off exponentially.
func connectDB(ctx context.Context, db pinger, logger logging.Logger) error {
	b := retry.WithMaxRetries(6, retry.NewExponential(250*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr: app.config.EndpointAddrHTTP,
		Handler: httpapi.NewRouter(httpapi.RouterDeps{
			Service:  app.auth,
			Tokens:   app.issuer,
			Logger:   app.logger,
			Gatherer: app.registry,
			Health:   app.db,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.logger.Info(ctx, "Stopping HTTP server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.db, 10*time.Second)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runPurgeLoop calls purge every interval until ctx is done.
func runPurgeLoop(ctx context.Context, interval time.Duration, logger logging.Logger, purge func(context.Context) (int64, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge(ctx)
			if err != nil {
				logger.Error(ctx, "refresh token purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "purged expired refresh tokens", "count", n)
			}
		}
	}
}

// Run serves HTTP and gRPC until SIGINT/SIGTERM or a server failure, then
// shuts everything down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.PurgeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPurgeLoop(ctx, app.config.PurgeInterval, app.logger, app.auth.PurgeExpiredRefreshTokens)
		}()
	}

	wg.Wait()

	app.logger.Info(context.Background(), "App stopped")
	return app.close()
}

func (app *App) close() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	return errors.Join(errs...)
}
