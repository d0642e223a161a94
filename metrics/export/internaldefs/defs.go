package internaldefs

import (
	"github.com/FebinAugustine/dirauth"
)

// CounterDef names one engine counter for exporters. Prometheus uses Name;
// OpenTelemetry groups counters of one Flow into a single instrument and
// tells them apart by Outcome.
type CounterDef struct {
	ID      dirauth.MetricID
	Name    string
	Help    string
	Flow    string
	Outcome string
}

type HistogramDef struct {
	ID   dirauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: dirauth.MetricRegisterAccepted, Name: "dirauth_register_accepted_total", Help: "Registrations that sent a confirmation link.", Flow: "register", Outcome: "accepted"},
	{ID: dirauth.MetricRegisterExisting, Name: "dirauth_register_existing_total", Help: "Registrations for an already registered email.", Flow: "register", Outcome: "existing"},
	{ID: dirauth.MetricRegisterRateLimited, Name: "dirauth_register_rate_limited_total", Help: "Registrations inside the cool-down window.", Flow: "register", Outcome: "rate_limited"},
	{ID: dirauth.MetricConfirmCreated, Name: "dirauth_confirm_created_total", Help: "Confirmations that created an identity.", Flow: "confirm", Outcome: "created"},
	{ID: dirauth.MetricConfirmExisting, Name: "dirauth_confirm_existing_total", Help: "Confirmations that resolved to an existing identity.", Flow: "confirm", Outcome: "existing"},
	{ID: dirauth.MetricConfirmExpired, Name: "dirauth_confirm_expired_total", Help: "Confirmations with an unknown or expired token.", Flow: "confirm", Outcome: "expired"},
	{ID: dirauth.MetricLoginCodeSent, Name: "dirauth_login_code_sent_total", Help: "Logins that passed the first factor.", Flow: "login", Outcome: "code_sent"},
	{ID: dirauth.MetricLoginFailure, Name: "dirauth_login_failure_total", Help: "Logins with invalid credentials.", Flow: "login", Outcome: "failure"},
	{ID: dirauth.MetricLoginRateLimited, Name: "dirauth_login_rate_limited_total", Help: "Logins inside the cool-down window.", Flow: "login", Outcome: "rate_limited"},
	{ID: dirauth.MetricOTPSuccess, Name: "dirauth_otp_success_total", Help: "Login codes redeemed.", Flow: "otp", Outcome: "success"},
	{ID: dirauth.MetricOTPFailure, Name: "dirauth_otp_failure_total", Help: "Login codes rejected.", Flow: "otp", Outcome: "failure"},
	{ID: dirauth.MetricSessionCreated, Name: "dirauth_session_created_total", Help: "Sessions created.", Flow: "session", Outcome: "created"},
	{ID: dirauth.MetricRefreshSuccess, Name: "dirauth_refresh_success_total", Help: "Access tokens refreshed.", Flow: "refresh", Outcome: "success"},
	{ID: dirauth.MetricRefreshFailure, Name: "dirauth_refresh_failure_total", Help: "Refresh attempts rejected.", Flow: "refresh", Outcome: "failure"},
	{ID: dirauth.MetricLogout, Name: "dirauth_logout_total", Help: "Logouts.", Flow: "logout", Outcome: "success"},
	{ID: dirauth.MetricSessionsRevoked, Name: "dirauth_sessions_revoked_total", Help: "Sessions revoked by logout or password reset.", Flow: "session", Outcome: "revoked"},
	{ID: dirauth.MetricCSRFRejected, Name: "dirauth_csrf_rejected_total", Help: "Requests rejected for a missing or wrong CSRF value.", Flow: "csrf", Outcome: "rejected"},
	{ID: dirauth.MetricCSRFRefreshed, Name: "dirauth_csrf_refreshed_total", Help: "CSRF values rotated.", Flow: "csrf", Outcome: "refreshed"},
	{ID: dirauth.MetricPasswordResetRequest, Name: "dirauth_password_reset_request_total", Help: "Password reset requests.", Flow: "password_reset", Outcome: "requested"},
	{ID: dirauth.MetricPasswordResetRateLimited, Name: "dirauth_password_reset_rate_limited_total", Help: "Password reset requests inside the cool-down window.", Flow: "password_reset", Outcome: "rate_limited"},
	{ID: dirauth.MetricPasswordResetConfirmSuccess, Name: "dirauth_password_reset_confirm_success_total", Help: "Passwords reset.", Flow: "password_reset", Outcome: "confirmed"},
	{ID: dirauth.MetricPasswordResetConfirmFailure, Name: "dirauth_password_reset_confirm_failure_total", Help: "Password resets with an unknown or expired token.", Flow: "password_reset", Outcome: "expired"},
	{ID: dirauth.MetricPasswordRehash, Name: "dirauth_password_rehash_total", Help: "Stored hashes upgraded on login.", Flow: "password", Outcome: "rehashed"},
	{ID: dirauth.MetricMailFailure, Name: "dirauth_mail_failure_total", Help: "Mail deliveries that failed.", Flow: "mail", Outcome: "failure"},
	{ID: dirauth.MetricStoreUnavailable, Name: "dirauth_store_unavailable_total", Help: "Operations that found the ephemeral store unavailable.", Flow: "store", Outcome: "unavailable"},
}

var HistogramDefs = []HistogramDef{
	{ID: dirauth.MetricValidateLatency, Name: "dirauth_token_validate_latency_seconds", Help: "Token validation latency."},
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const AuditDroppedName = "dirauth_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine's
// last bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
