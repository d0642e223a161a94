package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/internal/logger"
)

// response is the JSON envelope every endpoint writes.
type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Fields  []dirauth.FieldError `json:"fields,omitempty"`
}

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 2

var kindStatus = map[dirauth.Kind]int{
	dirauth.KindValidation:        http.StatusBadRequest,
	dirauth.KindRateLimited:       http.StatusTooManyRequests,
	dirauth.KindCredentialInvalid: http.StatusUnauthorized,
	dirauth.KindTokenExpired:      http.StatusBadRequest,
	dirauth.KindSessionInvalid:    http.StatusUnauthorized,
	dirauth.KindUnauthenticated:   http.StatusUnauthorized,
	dirauth.KindCSRFInvalid:       http.StatusForbidden,
	dirauth.KindUnavailable:       http.StatusServiceUnavailable,
	dirauth.KindInternal:          http.StatusInternalServerError,
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind dirauth.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Data: data})
}

// writeError renders err with the status its kind maps to. Only the
// caller-safe message leaves the process. The request id travels in the
// X-Request-ID header so bodies for the same outcome stay identical.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := dirauth.KindOf(err)
	status := statusFor(kind)

	body := &errorResponse{
		Code:    kind.String(),
		Message: dirauth.PublicMessage(err),
	}
	var e *dirauth.Error
	if errors.As(err, &e) && kind == dirauth.KindValidation {
		body.Fields = e.Fields
	}

	switch kind {
	case dirauth.KindSessionInvalid:
		h.cookies.clear(w)
	case dirauth.KindUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	if status >= http.StatusInternalServerError {
		logger.WithContext(r.Context(), h.logger).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", body.Code),
			slog.Any("error", err),
		)
	}

	writeJSON(w, status, response{Error: body})
}

// writeBadRequest reports a body that could not be decoded.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, response{
		Error: &errorResponse{Code: "invalid_request", Message: message},
	})
}
