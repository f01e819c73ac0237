package models

import "time"

// Merchant is the single operator account seeded from config.
type Merchant struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"size:100;uniqueIndex;not null" json:"name"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	// Address is the Lightning address sales settle to (name@domain).
	Address string `gorm:"size:255" json:"address"`
	// Pubkey is the merchant's Nostr identity when resolved via NIP-05.
	Pubkey    string    `gorm:"size:64" json:"pubkey,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Merchant) TableName() string {
	return "merchants"
}
