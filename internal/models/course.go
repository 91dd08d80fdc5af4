package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Course is a purchasable unit of content owned by an instructor
type Course struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	InstructorID    uint                `gorm:"index" json:"instructor_id"`
	Title           string              `gorm:"type:varchar(255)" json:"title"`
	Price           decimal.Decimal     `gorm:"type:decimal(15,2);not null;default:0" json:"price"`
	DiscountedPrice decimal.NullDecimal `gorm:"type:decimal(15,2)" json:"discounted_price"`
	Currency        string              `gorm:"type:varchar(10);default:'BDT'" json:"currency"`
	IsPublished     bool                `gorm:"default:false" json:"is_published"`
}

// EffectivePrice returns the discounted price when one is set, the list price otherwise
func (c Course) EffectivePrice() decimal.Decimal {
	if c.DiscountedPrice.Valid {
		return c.DiscountedPrice.Decimal
	}
	return c.Price
}

// IsFree reports whether enrolling costs nothing
func (c Course) IsFree() bool {
	return c.EffectivePrice().IsZero()
}
