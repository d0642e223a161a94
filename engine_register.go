package dirauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/directory"
	"github.com/FebinAugustine/dirauth/internal/rate"
	"github.com/FebinAugustine/dirauth/internal/stores"
	"github.com/FebinAugustine/dirauth/password"
)

const registerAccepted = "If the email is valid, a confirmation link has been sent."

// Register starts signup. The response is the same whether or not the email
// is already registered or the caller is inside the cool-down window.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (_ Accepted, err error) {
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	if verr := validateRequest(req); verr != nil {
		return Accepted{}, verr
	}

	email := directory.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)
	accepted := Accepted{Message: registerAccepted}

	if rerr := e.limiter.Enforce(ctx, rate.ActionRegister, ip, email); rerr != nil {
		if !errors.Is(rerr, rate.ErrRateLimited) {
			return Accepted{}, e.storeError(ctx, "register.check", rerr)
		}
		e.metricInc(MetricRegisterRateLimited)
		e.emitAudit(ctx, audit.EventRegister, false, "", "", ErrRateLimited, nil)
		return accepted, nil
	}

	existing, ferr := e.directory.FindByEmail(ctx, email)
	switch {
	case ferr == nil:
		// Same hashing cost as a fresh signup.
		e.hasher.VerifyDummy(req.Password)
		e.mark(ctx, rate.ActionRegister, ip, email)
		e.metricInc(MetricRegisterExisting)
		e.emitAudit(ctx, audit.EventRegister, false, existing.ID, "", nil, map[string]string{"reason": "exists"})
		return accepted, nil
	case !errors.Is(ferr, directory.ErrIdentityNotFound):
		return Accepted{}, e.internal(ctx, "register.lookup", ferr)
	}

	hash, herr := e.hasher.Hash(req.Password)
	if herr != nil {
		if errors.Is(herr, password.ErrPasswordTooShort) || errors.Is(herr, password.ErrPasswordTooLong) {
			return Accepted{}, validationError([]FieldError{{Field: "password", Message: herr.Error()}})
		}
		return Accepted{}, e.internal(ctx, "register.hash", herr)
	}

	payload, merr := json.Marshal(pendingRegistration{
		Name:         req.Name,
		Email:        email,
		PasswordHash: hash,
		Phone:        req.Phone,
		FellowshipID: req.FellowshipID,
		RequestedAt:  e.now().UTC(),
	})
	if merr != nil {
		return Accepted{}, e.internal(ctx, "register.encode", merr)
	}

	token, ierr := e.registry.Issue(ctx, stores.PurposeVerify, payload, e.config.Flow.VerifyTTL)
	if ierr != nil {
		return Accepted{}, e.storeError(ctx, "register.issue", ierr)
	}

	msg := e.composer.Confirmation(email, req.Name, token, e.config.Flow.VerifyTTL)
	if serr := e.sendMail(ctx, msg); serr != nil {
		e.emitAudit(ctx, audit.EventRegister, false, "", "", ErrInternal, map[string]string{"reason": "mail"})
		return Accepted{}, newError(KindInternal, serr)
	}

	e.mark(ctx, rate.ActionRegister, ip, email)
	e.metricInc(MetricRegisterAccepted)
	e.emitAudit(ctx, audit.EventRegister, true, "", "", nil, nil)

	return accepted, nil
}

// Confirm converts a confirmation token into a durable identity. A token that
// was already redeemed resolves to the same identity while its receipt lives,
// so re-clicks and parallel confirmations succeed with Created=false.
func (e *Engine) Confirm(ctx context.Context, token string) (_ Confirmation, err error) {
	ctx, span := e.startSpan(ctx, "Confirm")
	defer func() { endSpan(span, err) }()

	payload, rerr := e.registry.Redeem(ctx, stores.PurposeVerify, token)
	if errors.Is(rerr, stores.ErrTokenNotFound) {
		payload, rerr = e.registry.Receipt(ctx, stores.PurposeVerify, token)
	}
	if rerr != nil {
		if errors.Is(rerr, stores.ErrTokenNotFound) {
			e.metricInc(MetricConfirmExpired)
			e.emitAudit(ctx, audit.EventConfirm, false, "", "", ErrTokenExpired, nil)
			return Confirmation{}, newError(KindTokenExpired, rerr)
		}
		return Confirmation{}, e.storeError(ctx, "confirm.redeem", rerr)
	}

	var pending pendingRegistration
	if uerr := json.Unmarshal(payload, &pending); uerr != nil {
		return Confirmation{}, e.internal(ctx, "confirm.decode", fmt.Errorf("pending registration: %w", uerr))
	}

	// The token is spent. Finish even if the caller has gone away.
	dctx, cancel := e.detached(ctx)
	defer cancel()

	identity, created, cerr := e.directory.CreateOrFetch(dctx, &directory.Identity{
		Name:         pending.Name,
		Email:        pending.Email,
		Phone:        pending.Phone,
		PasswordHash: pending.PasswordHash,
		FellowshipID: pending.FellowshipID,
		Role:         directory.DefaultRole,
	})
	if cerr != nil {
		return Confirmation{}, e.internal(ctx, "confirm.create", cerr)
	}

	if created {
		e.metricInc(MetricConfirmCreated)
	} else {
		e.metricInc(MetricConfirmExisting)
	}
	e.emitAudit(ctx, audit.EventConfirm, true, identity.ID, "", nil, map[string]string{"created": fmt.Sprint(created)})

	return Confirmation{Identity: identityView(identity), Created: created}, nil
}
