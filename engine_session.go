package dirauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/directory"
	"github.com/FebinAugustine/dirauth/jwt"
	"github.com/FebinAugustine/dirauth/session"
)

// Authenticate validates an access token without touching the store.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	start := e.now()
	claims, err := e.tokens.Validate(accessToken, jwt.TypeAccess)
	e.observeValidate(start)
	if err != nil {
		e.log(ctx).Debug("access token rejected", "error", err)
		return Principal{}, newError(KindUnauthenticated, err)
	}
	return Principal{IdentityID: claims.UID, SessionID: claims.SID}, nil
}

// Refresh mints a new access token for a live session. It slides the
// session and its CSRF value to the refresh token's expiry. It never checks
// the CSRF value.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (_ Refreshed, err error) {
	ctx, span := e.startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	fail := func(cause error) (Refreshed, error) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, audit.EventRefresh, false, "", "", ErrSessionInvalid, nil)
		return Refreshed{}, newError(KindSessionInvalid, cause)
	}

	start := e.now()
	claims, verr := e.tokens.Validate(refreshToken, jwt.TypeRefresh)
	e.observeValidate(start)
	if verr != nil {
		return fail(verr)
	}

	sess, gerr := e.sessions.Get(ctx, claims.SID)
	if gerr != nil {
		if errors.Is(gerr, session.ErrSessionNotFound) {
			return fail(gerr)
		}
		return Refreshed{}, e.storeError(ctx, "refresh.get", gerr)
	}
	if sess.IdentityID != claims.UID {
		return fail(fmt.Errorf("session %s does not belong to token subject", claims.SID))
	}

	until := claims.ExpiresAt.Time
	if _, terr := e.sessions.Touch(ctx, claims.SID, until); terr != nil {
		if errors.Is(terr, session.ErrSessionNotFound) {
			return fail(terr)
		}
		return Refreshed{}, e.storeError(ctx, "refresh.touch", terr)
	}

	if ttl := until.Sub(e.now()); ttl > 0 {
		if xerr := e.csrf.Extend(ctx, claims.SID, ttl); xerr != nil {
			return Refreshed{}, e.storeError(ctx, "refresh.csrf", xerr)
		}
	}

	access, merr := e.tokens.MintAccess(claims.UID, claims.SID)
	if merr != nil {
		return Refreshed{}, e.internal(ctx, "refresh.mint", merr)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, audit.EventRefresh, true, claims.UID, claims.SID, nil, nil)

	return Refreshed{Access: access}, nil
}

// Logout revokes every session of the authenticated identity. The CSRF value
// must match the one bound to the caller's session.
func (e *Engine) Logout(ctx context.Context, accessToken, csrfValue string) (_ LoggedOut, err error) {
	ctx, span := e.startSpan(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	p, aerr := e.Authenticate(ctx, accessToken)
	if aerr != nil {
		e.emitAudit(ctx, audit.EventLogout, false, "", "", aerr, nil)
		return LoggedOut{}, aerr
	}

	ok, cerr := e.csrf.Verify(ctx, p.SessionID, csrfValue)
	if cerr != nil {
		return LoggedOut{}, e.storeError(ctx, "logout.csrf", cerr)
	}
	if !ok {
		e.metricInc(MetricCSRFRejected)
		e.emitAudit(ctx, audit.EventLogout, false, p.IdentityID, p.SessionID, ErrCSRFInvalid, nil)
		return LoggedOut{}, newError(KindCSRFInvalid, nil)
	}

	revoked, rerr := e.sessions.Revoke(ctx, p.IdentityID)
	if rerr != nil {
		return LoggedOut{}, e.storeError(ctx, "logout.revoke", rerr)
	}
	e.revokeCSRF(ctx, append(revoked, p.SessionID)...)

	e.metricInc(MetricLogout)
	e.metrics.Add(MetricSessionsRevoked, uint64(len(revoked)))
	e.emitAudit(ctx, audit.EventLogout, true, p.IdentityID, p.SessionID, nil, map[string]string{"revoked": fmt.Sprint(len(revoked))})

	return LoggedOut{RevokedSessions: len(revoked)}, nil
}

// revokeCSRF drops the values bound to sessions that no longer exist. A
// leftover value is inert without its session, so failures are only logged.
func (e *Engine) revokeCSRF(ctx context.Context, sessionIDs ...string) {
	if len(sessionIDs) == 0 {
		return
	}
	if err := e.csrf.Revoke(ctx, sessionIDs...); err != nil {
		e.log(ctx).Warn("csrf revoke failed", "sessions", len(sessionIDs), "error", err)
	}
}

// RefreshCSRF rotates the CSRF value of the caller's session.
func (e *Engine) RefreshCSRF(ctx context.Context, accessToken string) (_ CSRFGrant, err error) {
	ctx, span := e.startSpan(ctx, "RefreshCSRF")
	defer func() { endSpan(span, err) }()

	p, aerr := e.Authenticate(ctx, accessToken)
	if aerr != nil {
		return CSRFGrant{}, aerr
	}

	sess, gerr := e.sessions.Get(ctx, p.SessionID)
	if gerr != nil {
		if errors.Is(gerr, session.ErrSessionNotFound) {
			return CSRFGrant{}, newError(KindSessionInvalid, gerr)
		}
		return CSRFGrant{}, e.storeError(ctx, "csrf.get", gerr)
	}

	expires := sess.Expires()
	ttl := expires.Sub(e.now())
	if ttl < time.Second {
		return CSRFGrant{}, newError(KindSessionInvalid, errors.New("session about to expire"))
	}

	token, ierr := e.csrf.Issue(ctx, p.SessionID, ttl)
	if ierr != nil {
		return CSRFGrant{}, e.storeError(ctx, "csrf.issue", ierr)
	}

	e.metricInc(MetricCSRFRefreshed)
	e.emitAudit(ctx, audit.EventCSRFRefresh, true, p.IdentityID, p.SessionID, nil, nil)

	return CSRFGrant{Token: token, ExpiresAt: expires}, nil
}

// Me returns the caller's identity and how many sessions it holds.
func (e *Engine) Me(ctx context.Context, p Principal) (_ Me, err error) {
	ctx, span := e.startSpan(ctx, "Me")
	defer func() { endSpan(span, err) }()

	identity, ferr := e.directory.FindByID(ctx, p.IdentityID)
	if ferr != nil {
		if errors.Is(ferr, directory.ErrIdentityNotFound) {
			return Me{}, newError(KindUnauthenticated, ferr)
		}
		return Me{}, e.internal(ctx, "me.lookup", ferr)
	}

	active, serr := e.sessions.ActiveSessions(ctx, p.IdentityID)
	if serr != nil {
		return Me{}, e.storeError(ctx, "me.sessions", serr)
	}

	return Me{
		Identity:       identityView(identity),
		SessionID:      p.SessionID,
		ActiveSessions: len(active),
	}, nil
}
