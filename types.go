package dirauth

import (
	"time"

	"github.com/FebinAugustine/dirauth/internal/audit"
	"github.com/FebinAugustine/dirauth/internal/directory"
	"github.com/FebinAugustine/dirauth/internal/mail"
	"github.com/FebinAugustine/dirauth/jwt"
)

// RegisterRequest starts signup. The password is hashed before anything is stored.
type RegisterRequest struct {
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email,max=254"`
	Password     string `json:"password" validate:"required,min=8,max=1024"`
	Phone        string `json:"phone" validate:"omitempty,e164"`
	FellowshipID string `json:"fellowship_id" validate:"omitempty,max=64"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type OTPRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,min=6,max=10,numeric"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

// pendingRegistration is the payload behind a confirmation token.
type pendingRegistration struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Phone        string    `json:"phone,omitempty"`
	FellowshipID string    `json:"fellowship_id,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Accepted is the generic acknowledgement returned by flows that must not
// reveal whether an email is registered.
type Accepted struct {
	Message string `json:"message"`
}

// Identity is the public view of a directory identity.
type Identity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	FellowshipID string    `json:"fellowship_id,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func identityView(i *directory.Identity) Identity {
	return Identity{
		ID:           i.ID,
		Name:         i.Name,
		Email:        i.Email,
		Phone:        i.Phone,
		FellowshipID: i.FellowshipID,
		Role:         i.Role,
		CreatedAt:    i.CreatedAt,
	}
}

// Confirmation reports the identity a confirmation token resolved to.
// Created is false when the identity already existed.
type Confirmation struct {
	Identity Identity `json:"identity"`
	Created  bool     `json:"created"`
}

// SessionGrant is the result of a completed two-factor login.
type SessionGrant struct {
	Identity  Identity  `json:"identity"`
	SessionID string    `json:"session_id"`
	LoginAt   time.Time `json:"login_at"`
	CSRFToken string    `json:"csrf_token"`
	Access    jwt.Token `json:"-"`
	Refresh   jwt.Token `json:"-"`
}

type Refreshed struct {
	Access jwt.Token `json:"-"`
}

type LoggedOut struct {
	RevokedSessions int `json:"revoked_sessions"`
}

type CSRFGrant struct {
	Token     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Principal is the identity and session an access token speaks for.
type Principal struct {
	IdentityID string `json:"identity_id"`
	SessionID  string `json:"session_id"`
}

// Me describes the authenticated caller.
type Me struct {
	Identity       Identity `json:"identity"`
	SessionID      string   `json:"session_id"`
	ActiveSessions int      `json:"active_sessions"`
}

type (
	AuditEvent  = audit.Event
	AuditSink   = audit.Sink
	AuditConfig = audit.Config
	NoOpSink    = audit.NoOpSink
	ChannelSink = audit.ChannelSink
	SlogSink    = audit.SlogSink
)

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

type (
	// Directory is the durable identity store the engine reads and writes.
	Directory = directory.Directory
	// Mailer delivers confirmation, login code, and reset messages.
	Mailer      = mail.Sender
	MailMessage = mail.Message
)
