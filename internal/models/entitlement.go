package models

import (
	"time"
)

type SubscriptionTier string

const (
	SubscriptionTierBlue SubscriptionTier = "blue"
	SubscriptionTierGold SubscriptionTier = "gold"
)

// UserSubscription holds the coach's badge tier. One row per user.
type UserSubscription struct {
	ID            uint             `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	UserID        string           `gorm:"type:varchar(128);uniqueIndex" json:"user_id"`
	Tier          SubscriptionTier `gorm:"type:varchar(20)" json:"tier"`
	ActiveUntil   time.Time        `json:"active_until"`
	TransactionID string           `gorm:"type:varchar(36)" json:"transaction_id"`
}

// Post is the slice of a feed post the payment core is allowed to touch.
type Post struct {
	ID                 uint       `gorm:"primarykey" json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	AuthorID           string     `gorm:"type:varchar(128);index" json:"author_id"`
	IsBoosted          bool       `gorm:"default:false" json:"is_boosted"`
	BoostedUntil       *time.Time `json:"boosted_until"`
	BoostTransactionID string     `gorm:"type:varchar(36)" json:"boost_transaction_id,omitempty"`
}

// SessionAccess grants a user entry to a paid coaching session.
type SessionAccess struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	SessionID     string    `gorm:"type:varchar(128);uniqueIndex:idx_session_access_user" json:"session_id"`
	UserID        string    `gorm:"type:varchar(128);uniqueIndex:idx_session_access_user" json:"user_id"`
	TransactionID string    `gorm:"type:varchar(36)" json:"transaction_id"`
}
