// Package app wires the service dependencies and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/config"
	"github.com/FebinAugustine/dirauth/internal/directory"
	"github.com/FebinAugustine/dirauth/internal/directory/memory"
	"github.com/FebinAugustine/dirauth/internal/directory/postgres"
	handler "github.com/FebinAugustine/dirauth/internal/handler/http"
	"github.com/FebinAugustine/dirauth/internal/mail"
	"github.com/FebinAugustine/dirauth/internal/tracing"
	otelexport "github.com/FebinAugustine/dirauth/metrics/export/otel"
	promexport "github.com/FebinAugustine/dirauth/metrics/export/prometheus"
)

// App owns every long-lived resource of the service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	engine         *dirauth.Engine
	redis          redis.UniversalClient
	embedded       *miniredis.Miniredis
	pool           *pgxpool.Pool
	kafka          *mail.KafkaSender
	otelMetrics    *otelexport.Exporter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp connects the stores, builds the engine and router, and prepares the
// HTTP server. Resources opened before a failure are released.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	a.tracerShutdown, err = tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	if err = a.connectRedis(ctx); err != nil {
		return nil, err
	}

	dir, err := a.openDirectory(ctx)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(mail.Collectors()...)

	a.engine, err = dirauth.New().
		WithConfig(engineConfig(cfg)).
		WithRedis(a.redis).
		WithDirectory(dir).
		WithMailer(a.mailer()).
		WithLogger(logger).
		WithAuditSink(a.auditSink()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	registry.MustRegister(promexport.NewCollector(a.engine))

	// observed through whichever meter provider is installed globally
	a.otelMetrics, err = otelexport.NewExporter(otel.GetMeterProvider().Meter("dirauth"), a.engine)
	if err != nil {
		return nil, fmt.Errorf("register otel metrics: %w", err)
	}

	health := handler.NewHealth()
	health.Register("redis", a.engine.Ready)
	if a.pool != nil {
		health.Register("postgres", a.pool.Ping)
	}

	cookies := handler.CookieConfig{Secure: cfg.HTTP.SecureCookies, Domain: cfg.HTTP.CookieDomain}
	h := handler.NewHandler(a.engine, cookies, logger)
	router := handler.NewRouter(h, a.engine, health, registry, handler.RouterConfig{
		Cookies:   cookies,
		BodyLimit: cfg.HTTP.BodyLimitBytes,
		Throttle: handler.ThrottleConfig{
			RPS:   cfg.HTTP.RateLimitRPS,
			Burst: cfg.HTTP.RateLimitBurst,
		},
	}, logger)

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	addr := a.cfg.Redis.Addr
	if a.cfg.Redis.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		a.embedded = mr
		addr = mr.Addr()
		a.logger.Warn("using embedded redis, state is lost on restart", slog.String("addr", addr))
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.logger.Info("connected to redis", slog.String("addr", addr))
	return nil
}

func (a *App) openDirectory(ctx context.Context) (directory.Directory, error) {
	if a.cfg.DirectoryDriver == "memory" {
		a.logger.Warn("using in-memory directory, identities are lost on restart")
		return memory.New(), nil
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      a.cfg.Postgres.DSN,
		MaxConns: a.cfg.Postgres.MaxConns,
		MinConns: a.cfg.Postgres.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to postgres")

	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")
	return postgres.NewIdentityRepository(pool), nil
}

// mailer builds the configured delivery driver behind the circuit breaker.
func (a *App) mailer() mail.Sender {
	var sender mail.Sender
	switch a.cfg.Mail.Driver {
	case "smtp":
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
			Timeout:  a.cfg.SMTP.Timeout,
		})
	case "kafka":
		a.kafka = mail.NewKafkaSender(mail.KafkaConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
		}, a.logger)
		sender = a.kafka
	default:
		sender = mail.NewLogSender(a.logger)
	}
	a.logger.Info("mail driver ready", slog.String("driver", a.cfg.Mail.Driver))

	if !a.cfg.Mail.BreakerEnabled {
		return sender
	}
	bc := mail.DefaultBreakerConfig("mail-" + a.cfg.Mail.Driver)
	bc.Timeout = a.cfg.Mail.BreakerTimeout
	bc.MinRequests = a.cfg.Mail.BreakerMinRequests
	bc.FailureRatio = a.cfg.Mail.BreakerFailureRatio
	return mail.NewBreakerSender(sender, bc, a.logger)
}

// auditSink picks the configured destination for audit events.
func (a *App) auditSink() audit.Sink {
	if a.cfg.Audit.Sink == "json" {
		return audit.NewJSONWriterSink(os.Stdout)
	}
	return audit.NewSlogSink(a.logger)
}

// engineConfig maps service settings onto the engine configuration.
func engineConfig(cfg *config.Config) dirauth.Config {
	out := dirauth.DefaultConfig()

	out.JWT.PrivateKey = []byte(cfg.JWT.Secret)
	out.JWT.KeyID = cfg.JWT.KeyID
	out.JWT.Issuer = cfg.JWT.Issuer
	out.JWT.Audience = cfg.JWT.Audience
	out.JWT.AccessTTL = cfg.JWT.AccessTTL
	out.JWT.RefreshTTL = cfg.JWT.RefreshTTL
	out.JWT.Leeway = cfg.JWT.Leeway

	out.Flow.VerifyTTL = cfg.Auth.VerifyTTL
	out.Flow.ResetTTL = cfg.Auth.ResetTTL
	out.Flow.OTPTTL = cfg.Auth.OTPTTL
	out.Flow.OTPDigits = cfg.Auth.OTPDigits
	out.Flow.OTPMaxAttempts = cfg.Auth.OTPMaxAttempts
	out.Flow.RateWindow = cfg.Auth.RateWindow
	out.Flow.StoreOpTimeout = cfg.Redis.OpTimeout
	out.Flow.DetachedTimeout = cfg.Auth.DetachedTimeout

	out.Mail.BaseURL = cfg.Auth.BaseURL
	out.Mail.AppName = cfg.Auth.AppName
	return out
}

// Run serves HTTP until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown drains HTTP first so in-flight flows finish, then releases the
// engine and the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application")

	var errs []error
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error

	if a.otelMetrics != nil {
		if err := a.otelMetrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unregister otel metrics: %w", err))
		}
		a.otelMetrics = nil
	}
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka writer: %w", err))
		}
		a.kafka = nil
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
		a.tracerShutdown = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	if a.embedded != nil {
		a.embedded.Close()
		a.embedded = nil
	}
	return errors.Join(errs...)
}

// Handler exposes the router for in-process use.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}
