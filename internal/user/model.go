package user

import (
	"strings"
	"time"
)

// User is a user record in the users collection. A federated-only
// account (Google/Apple sign-in) has an empty PasswordHash.
type User struct {
	ID                  string     `bson:"_id" json:"id"`
	Email               string     `bson:"email" json:"email"`
	PasswordHash        string     `bson:"passwordHash" json:"-"`
	Name                string     `bson:"name" json:"name"`
	AvatarURL           string     `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	Provider            string     `bson:"provider,omitempty" json:"provider,omitempty"`
	IsEmailVerified     bool       `bson:"isEmailVerified" json:"isEmailVerified"`
	FailedLoginAttempts int        `bson:"failedLoginAttempts" json:"-"`
	LockedUntil         *time.Time `bson:"lockedUntil" json:"-"`
	LastLoginAt         *time.Time `bson:"lastLoginAt" json:"lastLoginAt,omitempty"`
	CreatedAt           time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// IsLocked reports whether the account is locked out at the given
// instant. A stale lock self-expires without requiring a write.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// NormalizeEmail trims surrounding whitespace and lowercases the
// address. Every storage and lookup path goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
