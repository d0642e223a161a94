package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/middleware"
)

// Service is the engine surface the handlers drive. *dirauth.Engine implements it.
type Service interface {
	Register(ctx context.Context, req dirauth.RegisterRequest) (dirauth.Accepted, error)
	Confirm(ctx context.Context, token string) (dirauth.Confirmation, error)
	Login(ctx context.Context, req dirauth.LoginRequest) (dirauth.Accepted, error)
	VerifyOTP(ctx context.Context, req dirauth.OTPRequest) (dirauth.SessionGrant, error)
	Authenticate(ctx context.Context, accessToken string) (dirauth.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (dirauth.Refreshed, error)
	Logout(ctx context.Context, accessToken, csrfValue string) (dirauth.LoggedOut, error)
	RefreshCSRF(ctx context.Context, accessToken string) (dirauth.CSRFGrant, error)
	ForgotPassword(ctx context.Context, req dirauth.ForgotPasswordRequest) (dirauth.Accepted, error)
	ResetPassword(ctx context.Context, token string, req dirauth.ResetPasswordRequest) (dirauth.Accepted, error)
	Me(ctx context.Context, p dirauth.Principal) (dirauth.Me, error)
}

// Handler serves the auth endpoints.
type Handler struct {
	svc     Service
	cookies cookieJar
	logger  *slog.Logger
}

func NewHandler(svc Service, cookies CookieConfig, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		cookies: cookieJar{cfg: cookies, now: time.Now},
		logger:  logger,
	}
}

// decode reads a single JSON object from the body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, response{
				Error: &errorResponse{Code: "body_too_large", Message: "Request body too large."},
			})
		case errors.Is(err, io.EOF):
			writeBadRequest(w, "Request body is required.")
		default:
			writeBadRequest(w, "Request body is not valid JSON.")
		}
		return false
	}
	return true
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req dirauth.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, res)
}

// Confirm handles POST /confirm/{token}. A repeated confirmation returns the
// existing identity with 200; a new one returns 201.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeData(w, status, res)
}

// Login handles POST /login, the password factor.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req dirauth.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, res)
}

// VerifyOTP handles POST /otp/verify and sets all three session cookies.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req dirauth.OTPRequest
	if !decode(w, r, &req) {
		return
	}
	grant, err := h.svc.VerifyOTP(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.cookies.setAccess(w, grant.Access.Value, grant.Access.ExpiresAt)
	h.cookies.setRefresh(w, grant.Refresh.Value, grant.Refresh.ExpiresAt)
	h.cookies.setCSRF(w, grant.CSRFToken, grant.Refresh.ExpiresAt)
	writeData(w, http.StatusOK, grant)
}

// Refresh handles GET /session/refresh. Any failure to resume the session
// clears every cookie.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, refreshCookie)
	if token == "" {
		h.writeError(w, r, dirauth.ErrSessionInvalid)
		return
	}
	res, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.setAccess(w, res.Access.Value, res.Access.ExpiresAt)
	writeData(w, http.StatusOK, struct {
		ExpiresAt time.Time `json:"expires_at"`
	}{res.Access.ExpiresAt})
}

// Logout handles POST /logout. The access token comes from the cookie or
// bearer header and the csrf value from CSRFHeader.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.AccessToken(r)
	res, err := h.svc.Logout(r.Context(), token, r.Header.Get(CSRFHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.clear(w)
	writeData(w, http.StatusOK, res)
}

// RefreshCSRF handles POST /csrf/refresh.
func (h *Handler) RefreshCSRF(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.AccessToken(r)
	res, err := h.svc.RefreshCSRF(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.setCSRF(w, res.Token, res.ExpiresAt)
	writeData(w, http.StatusOK, res)
}

// ForgotPassword handles POST /password/forgot.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dirauth.ForgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ForgotPassword(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, res)
}

// ResetPassword handles POST /password/reset/{token}.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dirauth.ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ResetPassword(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.clear(w)
	writeData(w, http.StatusOK, res)
}

// Me handles GET /me behind the access guard.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, r, dirauth.ErrUnauthenticated)
		return
	}
	res, err := h.svc.Me(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
