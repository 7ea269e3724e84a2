package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// APIKey is the persisted form of an issued key. Only the SHA-256 hash of the
// plaintext is stored; the plaintext exists in memory at issuance time and is
// returned to the caller exactly once.
type APIKey struct {
	KeyHash      string     `gorm:"primaryKey" json:"key_hash"`
	Name         string     `gorm:"not null" json:"name"`
	OwnerID      string     `gorm:"index;not null" json:"owner_id"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	NeverExpires bool       `gorm:"default:false" json:"never_expires"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `gorm:"index" json:"last_used_at,omitempty"`
	UsageCount   int64      `gorm:"default:0" json:"usage_count"`
	Roles        RoleList   `gorm:"type:jsonb" json:"roles"`
	Config       KeyConfig  `gorm:"type:jsonb" json:"config"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

// ValidAt reports whether the key grants access at the given instant:
// active and either never expiring or not yet past its expiration.
func (a *APIKey) ValidAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.NeverExpires {
		return true
	}
	return a.ExpiresAt != nil && a.ExpiresAt.After(now)
}

// RoleList is an ordered list of role grants stored as a JSONB column.
type RoleList []string

func (r RoleList) Value() (driver.Value, error) {
	if r == nil {
		r = RoleList{}
	}
	return json.Marshal(r)
}

func (r *RoleList) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// KeyConfig is the free-form configuration object attached to a key. The
// service stores and returns it without interpreting its contents.
type KeyConfig map[string]interface{}

func (c KeyConfig) Value() (driver.Value, error) {
	if c == nil {
		c = KeyConfig{}
	}
	return json.Marshal(c)
}

func (c *KeyConfig) Scan(value interface{}) error {
	return scanJSON(value, c)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("unsupported type for JSON column")
	}
}
