package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentCallbackHistory stores every raw gateway callback before it is processed
type PaymentCallbackHistory struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Gateway       string         `gorm:"type:varchar(50);not null" json:"gateway"`
	TransactionID string         `gorm:"type:varchar(100);index" json:"transaction_id"`
	Outcome       string         `gorm:"type:varchar(50)" json:"outcome"`
	Metadata      datatypes.JSON `json:"metadata"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
