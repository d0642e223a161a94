package dirauth

import (
	"context"
	"errors"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/directory"
	"github.com/FebinAugustine/dirauth/internal/rate"
	"github.com/FebinAugustine/dirauth/internal/stores"
)

const loginAccepted = "If the credentials are valid, a login code has been sent."

// Login checks the first factor and mails a one-time code. An unknown email
// and a wrong password produce the same error.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (_ Accepted, err error) {
	ctx, span := e.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()

	if verr := validateRequest(req); verr != nil {
		return Accepted{}, verr
	}

	email := directory.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)

	if rerr := e.limiter.Enforce(ctx, rate.ActionLogin, ip, email); rerr != nil {
		if !errors.Is(rerr, rate.ErrRateLimited) {
			return Accepted{}, e.storeError(ctx, "login.check", rerr)
		}
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, audit.EventLogin, false, "", "", ErrRateLimited, nil)
		return Accepted{}, newError(KindRateLimited, rerr)
	}

	identity, ok, lerr := e.checkCredentials(ctx, email, req.Password)
	if lerr != nil {
		return Accepted{}, lerr
	}
	if !ok {
		e.mark(ctx, rate.ActionLogin, ip, email)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, audit.EventLogin, false, "", "", ErrCredentialInvalid, nil)
		return Accepted{}, newError(KindCredentialInvalid, nil)
	}

	e.upgradeHash(ctx, identity, req.Password)

	code, ierr := e.otps.Issue(ctx, email)
	if ierr != nil {
		return Accepted{}, e.storeError(ctx, "login.otp", ierr)
	}

	if serr := e.sendMail(ctx, e.composer.LoginCode(email, code, e.otps.TTL())); serr != nil {
		e.emitAudit(ctx, audit.EventLogin, false, identity.ID, "", ErrInternal, map[string]string{"reason": "mail"})
		return Accepted{}, newError(KindInternal, serr)
	}

	e.mark(ctx, rate.ActionLogin, ip, email)
	e.metricInc(MetricLoginCodeSent)
	e.emitAudit(ctx, audit.EventLogin, true, identity.ID, "", nil, nil)

	return Accepted{Message: loginAccepted}, nil
}

// checkCredentials returns ok=false for every credential failure. Only
// directory faults come back as errors.
func (e *Engine) checkCredentials(ctx context.Context, email, pw string) (*directory.Identity, bool, *Error) {
	identity, err := e.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrIdentityNotFound) {
			e.hasher.VerifyDummy(pw)
			return nil, false, nil
		}
		return nil, false, e.internal(ctx, "login.lookup", err)
	}

	ok, err := e.hasher.Verify(pw, identity.PasswordHash)
	if err != nil {
		e.log(ctx).Warn("password verification failed", "identity_id", identity.ID, "error", err)
		return nil, false, nil
	}
	return identity, ok, nil
}

// upgradeHash re-hashes a verified password when the stored parameters are
// older than the configured ones.
func (e *Engine) upgradeHash(ctx context.Context, identity *directory.Identity, pw string) {
	stale, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		e.log(ctx).Warn("password rehash failed", "identity_id", identity.ID, "error", err)
		return
	}
	if err := e.directory.UpdatePassword(ctx, identity.ID, hash); err != nil {
		e.log(ctx).Warn("password rehash not persisted", "identity_id", identity.ID, "error", err)
		return
	}
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, audit.EventPasswordRehash, true, identity.ID, "", nil, nil)
}

// VerifyOTP redeems the login code and materializes a session: a session
// record, access and refresh tokens, and a CSRF value bound to the session.
func (e *Engine) VerifyOTP(ctx context.Context, req OTPRequest) (_ SessionGrant, err error) {
	ctx, span := e.startSpan(ctx, "VerifyOTP")
	defer func() { endSpan(span, err) }()

	if verr := validateRequest(req); verr != nil {
		return SessionGrant{}, verr
	}

	email := directory.NormalizeEmail(req.Email)

	if rerr := e.otps.Redeem(ctx, email, req.Code); rerr != nil {
		if errors.Is(rerr, stores.ErrOTPExpired) || errors.Is(rerr, stores.ErrOTPInvalid) || errors.Is(rerr, stores.ErrOTPExhausted) {
			e.metricInc(MetricOTPFailure)
			var meta map[string]string
			if errors.Is(rerr, stores.ErrOTPExhausted) {
				meta = map[string]string{"reason": "attempts_exhausted"}
			}
			e.emitAudit(ctx, audit.EventOTPVerify, false, "", "", ErrTokenExpired, meta)
			return SessionGrant{}, newError(KindTokenExpired, rerr)
		}
		return SessionGrant{}, e.storeError(ctx, "otp.redeem", rerr)
	}

	// The code is spent. Finish even if the caller has gone away.
	dctx, cancel := e.detached(ctx)
	defer cancel()

	identity, ferr := e.directory.FindByEmail(dctx, email)
	if ferr != nil {
		if errors.Is(ferr, directory.ErrIdentityNotFound) {
			e.metricInc(MetricOTPFailure)
			return SessionGrant{}, newError(KindTokenExpired, ferr)
		}
		return SessionGrant{}, e.internal(ctx, "otp.lookup", ferr)
	}

	refreshTTL := e.tokens.RefreshTTL()
	sess, serr := e.sessions.Create(dctx, identity.ID, refreshTTL)
	if serr != nil {
		return SessionGrant{}, e.storeError(ctx, "otp.session", serr)
	}

	access, aerr := e.tokens.MintAccess(identity.ID, sess.SessionID)
	if aerr != nil {
		return SessionGrant{}, e.internal(ctx, "otp.mint_access", aerr)
	}
	refresh, merr := e.tokens.MintRefresh(identity.ID, sess.SessionID)
	if merr != nil {
		return SessionGrant{}, e.internal(ctx, "otp.mint_refresh", merr)
	}

	csrfToken, cerr := e.csrf.Issue(dctx, sess.SessionID, refreshTTL)
	if cerr != nil {
		return SessionGrant{}, e.storeError(ctx, "otp.csrf", cerr)
	}

	e.metricInc(MetricOTPSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, audit.EventOTPVerify, true, identity.ID, sess.SessionID, nil, nil)

	return SessionGrant{
		Identity:  identityView(identity),
		SessionID: sess.SessionID,
		LoginAt:   sess.Created(),
		CSRFToken: csrfToken,
		Access:    access,
		Refresh:   refresh,
	}, nil
}
