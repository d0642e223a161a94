package dirauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/csrf"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
	"github.com/FebinAugustine/dirauth/internal/logger"
	"github.com/FebinAugustine/dirauth/internal/mail"
	"github.com/FebinAugustine/dirauth/internal/rate"
	"github.com/FebinAugustine/dirauth/internal/stores"
	"github.com/FebinAugustine/dirauth/internal/validation"
	"github.com/FebinAugustine/dirauth/jwt"
	"github.com/FebinAugustine/dirauth/password"
	"github.com/FebinAugustine/dirauth/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/FebinAugustine/dirauth"

// Engine runs the registration, login, session, and password reset flows.
// It is safe for concurrent use once built.
type Engine struct {
	config    Config
	logger    *slog.Logger
	store     *ephemeral.Store
	limiter   *rate.Limiter
	registry  *stores.TokenRegistry
	otps      *stores.OTPStore
	sessions  *session.Store
	csrf      *csrf.Guard
	tokens    *jwt.Manager
	hasher    *password.Argon2
	directory Directory
	mailer    Mailer
	composer  mail.Composer
	audit     *audit.Dispatcher
	metrics   *Metrics
	now       func() time.Time
}

// Close drains pending audit events. The engine does not own the Redis
// client or the directory.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ready reports whether the ephemeral store answers.
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// AccessTTL and RefreshTTL let transports size cookie lifetimes.
func (e *Engine) AccessTTL() time.Duration  { return e.tokens.AccessTTL() }
func (e *Engine) RefreshTTL() time.Duration { return e.tokens.RefreshTTL() }

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dirauth."+op,
		trace.WithAttributes(attribute.String("client.ip", clientIPFromContext(ctx))))
}

// endSpan records the outcome kind. Expected failures such as bad
// credentials are not span errors.
func endSpan(span trace.Span, err error) {
	if err != nil {
		kind := KindOf(err)
		span.SetAttributes(attribute.String("dirauth.error_kind", kind.String()))
		if kind == KindInternal || kind == KindUnavailable {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
		}
	}
	span.End()
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, e.logger)
}

func validateRequest(req any) *Error {
	if fields := validation.Validate(req); len(fields) > 0 {
		return validationError(fields)
	}
	return nil
}

// storeError maps a component error to Unavailable when the store could not
// be reached and to Internal otherwise.
func (e *Engine) storeError(ctx context.Context, op string, err error) *Error {
	if errors.Is(err, ephemeral.ErrUnavailable) {
		e.metricInc(MetricStoreUnavailable)
		e.log(ctx).Warn("ephemeral store unavailable", "op", op, "error", err)
		return newError(KindUnavailable, err)
	}
	return e.internal(ctx, op, err)
}

func (e *Engine) internal(ctx context.Context, op string, err error) *Error {
	e.log(ctx).Error("operation failed", "op", op, "error", err)
	return newError(KindInternal, err)
}

// detached returns a context that survives caller cancellation, bounded by
// DetachedTimeout. Work that follows a one-time redemption runs on it.
func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.Flow.DetachedTimeout)
}

// mark sets the cool-down after a protected operation. A failure is only
// logged because the operation itself already happened.
func (e *Engine) mark(ctx context.Context, action rate.Action, ip, email string) {
	if err := e.limiter.Mark(ctx, action, ip, email); err != nil {
		e.log(ctx).Warn("rate limit mark failed", "action", string(action), "error", err)
	}
}

func (e *Engine) sendMail(ctx context.Context, msg mail.Message) error {
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.metricInc(MetricMailFailure)
		e.log(ctx).Error("mail delivery failed", "kind", msg.Kind, "error", err)
		return err
	}
	return nil
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, identityID, sessionID string, err error, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	event := audit.Event{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) observeValidate(start time.Time) {
	e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
}
