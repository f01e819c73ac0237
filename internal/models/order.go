package models

import (
	"time"

	"gorm.io/gorm"
)

// Order is a persisted checkout session. The in-memory session is
// authoritative while live; the row is updated on every state transition so
// the sales history survives restarts.
type Order struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	OrderID     string  `gorm:"size:64;uniqueIndex;not null" json:"order_id"`
	AmountSats  int64   `gorm:"not null" json:"amount_sats"`
	AmountMsat  int64   `gorm:"not null" json:"amount_msat"`
	Currency    string  `gorm:"size:8;default:'SAT'" json:"currency"`
	FiatAmount  float64 `json:"fiat_amount"`
	Destination string  `gorm:"size:255" json:"destination"`
	State       string  `gorm:"size:20;not null;index" json:"state"` // LOADING, READY, CONFIRMED, EXPIRED, ERROR, CANCELLED
	Mode        string  `gorm:"size:20" json:"mode"`                 // ZAP, PROXY, DEGRADED
	Bolt11      string  `gorm:"type:text" json:"bolt11,omitempty"`

	ReceiptID         string     `gorm:"size:64" json:"receipt_id,omitempty"`
	ReceiptAmountMsat int64      `json:"receipt_amount_msat,omitempty"`
	PayerPubkey       string     `gorm:"size:64" json:"payer_pubkey,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Order) TableName() string {
	return "orders"
}
