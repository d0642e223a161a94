package dirauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/FebinAugustine/dirauth/jwt"
	"github.com/FebinAugustine/dirauth/password"
)

// Config holds engine lifetimes and subsystem settings. Start from
// DefaultConfig and override what differs.
type Config struct {
	JWT      JWTConfig
	Password password.Config
	Flow     FlowConfig
	Mail     MailConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

// FlowConfig sets one-time record lifetimes and the rate-limit window.
type FlowConfig struct {
	VerifyTTL  time.Duration
	ResetTTL   time.Duration
	OTPTTL     time.Duration
	OTPDigits  int
	RateWindow time.Duration
	// OTPMaxAttempts wrong codes burn the outstanding login code.
	OTPMaxAttempts int
	// StoreOpTimeout bounds every ephemeral store call.
	StoreOpTimeout time.Duration
	// DetachedTimeout bounds work that must finish once a one-time record
	// has been redeemed, even if the caller goes away.
	DetachedTimeout time.Duration
}

// MailConfig feeds the message composer.
type MailConfig struct {
	BaseURL string
	AppName string
}

func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "dirauth",
			Audience:      "dirauth-web",
			Leeway:        30 * time.Second,
		},
		Password: password.DefaultConfig(),
		Flow: FlowConfig{
			VerifyTTL:       300 * time.Second,
			ResetTTL:        900 * time.Second,
			OTPTTL:          300 * time.Second,
			OTPDigits:       6,
			OTPMaxAttempts:  5,
			RateWindow:      60 * time.Second,
			StoreOpTimeout:  2 * time.Second,
			DetachedTimeout: 5 * time.Second,
		},
		Mail: MailConfig{
			BaseURL: "http://localhost:8080",
			AppName: "Directory",
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("jwt ttls must be positive"))
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		errs = append(errs, errors.New("refresh ttl must not be shorter than access ttl"))
	}
	if len(c.JWT.PrivateKey) == 0 {
		errs = append(errs, errors.New("jwt signing key required"))
	}
	for name, d := range map[string]time.Duration{
		"verify ttl":       c.Flow.VerifyTTL,
		"reset ttl":        c.Flow.ResetTTL,
		"otp ttl":          c.Flow.OTPTTL,
		"rate window":      c.Flow.RateWindow,
		"store op timeout": c.Flow.StoreOpTimeout,
		"detached timeout": c.Flow.DetachedTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Flow.OTPDigits < 6 || c.Flow.OTPDigits > 10 {
		errs = append(errs, errors.New("otp digits must be between 6 and 10"))
	}
	if c.Flow.OTPMaxAttempts < 1 {
		errs = append(errs, errors.New("otp max attempts must be at least 1"))
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("audit buffer size must be positive"))
	}

	return errors.Join(errs...)
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
