package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentSession keeps the gateway request/response of a session creation for audit
type PaymentSession struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	PaymentID        uint           `gorm:"index" json:"payment_id"`
	CourseID         uint           `gorm:"index" json:"course_id"`
	UserID           uint           `gorm:"index" json:"user_id"`
	Gateway          string         `gorm:"type:varchar(50);not null" json:"gateway"`
	SessionID        string         `gorm:"type:varchar(100);index" json:"session_id"`
	RedirectURL      string         `gorm:"type:text" json:"redirect_url"`
	RequestMetadata  datatypes.JSON `json:"request_metadata"`
	ResponseMetadata datatypes.JSON `json:"response_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
