package dirauth

import (
	"context"
	"errors"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/directory"
	"github.com/FebinAugustine/dirauth/internal/rate"
	"github.com/FebinAugustine/dirauth/internal/stores"
	"github.com/FebinAugustine/dirauth/password"
)

const (
	forgotAccepted = "If the email is registered, a reset link has been sent."
	resetAccepted  = "Password has been reset. Please log in."
)

// ForgotPassword mails a reset link when the email belongs to an identity.
// The response does not reveal whether it does.
func (e *Engine) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (_ Accepted, err error) {
	ctx, span := e.startSpan(ctx, "ForgotPassword")
	defer func() { endSpan(span, err) }()

	if verr := validateRequest(req); verr != nil {
		return Accepted{}, verr
	}

	email := directory.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)
	accepted := Accepted{Message: forgotAccepted}

	if rerr := e.limiter.Enforce(ctx, rate.ActionReset, ip, email); rerr != nil {
		if !errors.Is(rerr, rate.ErrRateLimited) {
			return Accepted{}, e.storeError(ctx, "forgot.check", rerr)
		}
		e.metricInc(MetricPasswordResetRateLimited)
		e.emitAudit(ctx, audit.EventResetRequest, false, "", "", ErrRateLimited, nil)
		return accepted, nil
	}

	identity, ferr := e.directory.FindByEmail(ctx, email)
	if ferr != nil {
		if !errors.Is(ferr, directory.ErrIdentityNotFound) {
			return Accepted{}, e.internal(ctx, "forgot.lookup", ferr)
		}
		e.mark(ctx, rate.ActionReset, ip, email)
		e.metricInc(MetricPasswordResetRequest)
		e.emitAudit(ctx, audit.EventResetRequest, false, "", "", nil, map[string]string{"reason": "unknown"})
		return accepted, nil
	}

	token, ierr := e.registry.Issue(ctx, stores.PurposeReset, []byte(identity.ID), e.config.Flow.ResetTTL)
	if ierr != nil {
		return Accepted{}, e.storeError(ctx, "forgot.issue", ierr)
	}

	// A delivery failure is logged by sendMail and answered like every other
	// path, so a mail outage cannot tell known addresses from unknown ones.
	if serr := e.sendMail(ctx, e.composer.Reset(email, token, e.config.Flow.ResetTTL)); serr != nil {
		e.mark(ctx, rate.ActionReset, ip, email)
		e.emitAudit(ctx, audit.EventResetRequest, false, identity.ID, "", ErrInternal, map[string]string{"reason": "mail"})
		return accepted, nil
	}

	e.mark(ctx, rate.ActionReset, ip, email)
	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, audit.EventResetRequest, true, identity.ID, "", nil, nil)

	return accepted, nil
}

// ResetPassword redeems a reset token, stores the new password, and revokes
// every session of the identity. An invalid new password leaves the token
// unspent.
func (e *Engine) ResetPassword(ctx context.Context, token string, req ResetPasswordRequest) (_ Accepted, err error) {
	ctx, span := e.startSpan(ctx, "ResetPassword")
	defer func() { endSpan(span, err) }()

	if verr := validateRequest(req); verr != nil {
		return Accepted{}, verr
	}

	hash, herr := e.hasher.Hash(req.Password)
	if herr != nil {
		if errors.Is(herr, password.ErrPasswordTooShort) || errors.Is(herr, password.ErrPasswordTooLong) {
			return Accepted{}, validationError([]FieldError{{Field: "password", Message: herr.Error()}})
		}
		return Accepted{}, e.internal(ctx, "reset.hash", herr)
	}

	fail := func(cause error) (Accepted, error) {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, audit.EventResetConfirm, false, "", "", ErrTokenExpired, nil)
		return Accepted{}, newError(KindTokenExpired, cause)
	}

	payload, rerr := e.registry.Redeem(ctx, stores.PurposeReset, token)
	if rerr != nil {
		if errors.Is(rerr, stores.ErrTokenNotFound) {
			return fail(rerr)
		}
		return Accepted{}, e.storeError(ctx, "reset.redeem", rerr)
	}
	identityID := string(payload)

	dctx, cancel := e.detached(ctx)
	defer cancel()

	if uerr := e.directory.UpdatePassword(dctx, identityID, hash); uerr != nil {
		if errors.Is(uerr, directory.ErrIdentityNotFound) {
			return fail(uerr)
		}
		return Accepted{}, e.internal(ctx, "reset.update", uerr)
	}

	revoked, verr := e.sessions.Revoke(dctx, identityID)
	if verr != nil {
		// The password changed; existing sessions still expire on their own.
		e.log(ctx).Error("session revoke after reset failed", "identity_id", identityID, "error", verr)
	} else {
		e.revokeCSRF(dctx, revoked...)
		e.metrics.Add(MetricSessionsRevoked, uint64(len(revoked)))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, audit.EventResetConfirm, true, identityID, "", nil, nil)

	return Accepted{Message: resetAccepted}, nil
}
