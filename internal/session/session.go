package session

import (
	"time"
)

// Session is a server-side login record in the sessions collection.
// It is the authority for early invalidation: a signature-valid access
// token is still rejected once its session is revoked or expired.
type Session struct {
	ID               string     `bson:"_id" json:"id"`
	UserID           string     `bson:"userId" json:"userId"`
	RefreshTokenHash string     `bson:"refreshTokenHash,omitempty" json:"-"`
	IP               string     `bson:"ip,omitempty" json:"ip,omitempty"`
	UserAgent        string     `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	ExpiresAt        time.Time  `bson:"expiresAt" json:"expiresAt"`
	RevokedAt        *time.Time `bson:"revokedAt" json:"revokedAt,omitempty"`
}

// IsLive reports whether the session authorizes requests at the given
// instant: not revoked and not past its expiry.
func (s *Session) IsLive(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
