package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodFree       PaymentMethod = "free"
	PaymentMethodCardRail   PaymentMethod = "card-rail"
	PaymentMethodWalletRail PaymentMethod = "wallet-rail"
)

// Payment records one purchase attempt. Rows are never deleted and move
// from pending to exactly one terminal status.
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CourseID      *uint           `gorm:"index:idx_payments_course_user,priority:1" json:"course_id"`
	UserID        *uint           `gorm:"index:idx_payments_course_user,priority:2" json:"user_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(10)" json:"currency"`
	Status        PaymentStatus   `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	PaymentMethod PaymentMethod   `gorm:"type:varchar(20)" json:"payment_method"`
	Gateway       string          `gorm:"type:varchar(50)" json:"gateway"`
	GatewayStatus string          `gorm:"type:varchar(100)" json:"gateway_status"`
	TransactionID *string         `gorm:"type:varchar(100);uniqueIndex" json:"transaction_id"`
	PaymentDate   time.Time       `json:"payment_date"`
}

// TranID returns the transaction id or an empty string
func (p *Payment) TranID() string {
	if p == nil || p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}
