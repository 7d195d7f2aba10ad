package models

import (
	"time"
)

// User represents a Discord user known to the gateway.
// The ID is the Discord snowflake, supplied by the OAuth flow, so the
// primary key is a string rather than an auto-increment.
type User struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Username  string    `json:"username,omitempty"`

	// Relationships
	APIKeys []APIKey `gorm:"foreignKey:UserID" json:"api_keys,omitempty"`
}
