package session

import "time"

// Session is one authenticated login of an identity. Times are unix seconds.
type Session struct {
	SessionID      string
	IdentityID     string
	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64
}

func (s *Session) Created() time.Time      { return time.Unix(s.CreatedAt, 0).UTC() }
func (s *Session) LastActivity() time.Time { return time.Unix(s.LastActivityAt, 0).UTC() }
func (s *Session) Expires() time.Time      { return time.Unix(s.ExpiresAt, 0).UTC() }
