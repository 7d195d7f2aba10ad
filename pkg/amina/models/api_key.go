package models

import (
	"time"
)

// MaxActiveKeysPerUser is the ceiling of non-revoked, non-expired keys a
// single user may hold. Enforced read-then-write, so it is a soft limit.
const MaxActiveKeysPerUser = 5

// APIKey represents an issued API key for programmatic access.
// The plaintext key is shown exactly once at issue time; only its SHA-256
// digest and a short display prefix are persisted.
type APIKey struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
	UserID    string    `gorm:"not null;index" json:"user_id"`

	// KeyID is the short opaque identifier used in revoke/list operations.
	KeyID     string `gorm:"uniqueIndex;not null" json:"id"`
	Name      string `gorm:"not null" json:"name"`
	KeyHash   string `gorm:"not null;index" json:"-"`
	KeyPrefix string `gorm:"not null" json:"prefix"` // First chars for identification

	// Permissions holds capability scopes; "all" subsumes every scope.
	Permissions []string `gorm:"serializer:json" json:"permissions"`

	RateLimitRequests int `gorm:"default:60" json:"rate_limit_requests"`
	RateLimitWindow   int `gorm:"default:60" json:"rate_limit_window"`

	UsageTotal int64      `gorm:"default:0" json:"usage_total"`
	LastUsedAt *time.Time `json:"last_used_at"`

	ExpiresAt *time.Time `json:"expires_at"`
	Revoked   bool       `gorm:"default:false" json:"revoked"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"-"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// Active reports whether the key can still authenticate requests.
func (k *APIKey) Active(now time.Time) bool {
	return !k.Revoked && !k.Expired(now)
}

// HasPermission reports whether the key grants the given scope.
func (k *APIKey) HasPermission(scope string) bool {
	for _, p := range k.Permissions {
		if p == "all" || p == scope {
			return true
		}
	}
	return false
}
