package dirauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/csrf"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
	"github.com/FebinAugustine/dirauth/internal/mail"
	"github.com/FebinAugustine/dirauth/internal/rate"
	"github.com/FebinAugustine/dirauth/internal/stores"
	"github.com/FebinAugustine/dirauth/jwt"
	"github.com/FebinAugustine/dirauth/password"
	"github.com/FebinAugustine/dirauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during startup, call Build
// once, and discard it.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory Directory
	mailer    Mailer
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the ephemeral store client. Any go-redis client works,
// including cluster and failover clients.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires every store. A Builder can
// only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: cfg.JWT.SigningMethod,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}

	store := ephemeral.New(b.redis, ephemeral.WithOpTimeout(cfg.Flow.StoreOpTimeout))

	var sink audit.Sink = b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}

	b.built = true

	return &Engine{
		config:    cfg,
		logger:    logger,
		store:     store,
		limiter:   rate.New(store, rate.Config{Window: cfg.Flow.RateWindow}),
		registry:  stores.NewTokenRegistry(store, stores.WithReceipts(stores.PurposeVerify)),
		otps:      stores.NewOTPStore(store, cfg.Flow.OTPDigits, cfg.Flow.OTPTTL, stores.WithMaxAttempts(cfg.Flow.OTPMaxAttempts)),
		sessions:  session.NewStore(store),
		csrf:      csrf.NewGuard(store),
		tokens:    tokens,
		hasher:    hasher,
		directory: b.directory,
		mailer:    b.mailer,
		composer:  mail.Composer{BaseURL: cfg.Mail.BaseURL, AppName: cfg.Mail.AppName},
		audit:     audit.NewDispatcher(cfg.Audit, sink),
		metrics:   NewMetrics(cfg.Metrics),
		now:       time.Now,
	}, nil
}
