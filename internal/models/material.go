package models

import (
	"time"

	"gorm.io/gorm"
)

type MaterialType string

const (
	MaterialTypeVideo      MaterialType = "video"
	MaterialTypeDocument   MaterialType = "document"
	MaterialTypeQuiz       MaterialType = "quiz"
	MaterialTypeAssignment MaterialType = "assignment"
	MaterialTypePDF        MaterialType = "pdf"
)

// Material is a single learnable item. A nil LessonID marks it as legacy (unorganized)
type Material struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CourseID        uint         `gorm:"index" json:"course_id"`
	LessonID        *uint        `gorm:"index" json:"lesson_id"`
	Title           string       `gorm:"type:varchar(255)" json:"title"`
	Type            MaterialType `gorm:"type:varchar(20)" json:"type"`
	OrderIndex      int          `gorm:"default:0" json:"order_index"`
	IsFree          bool         `gorm:"default:false" json:"is_free"`
	FileURL         *string      `gorm:"type:text" json:"file_url,omitempty"`
	DurationMinutes *int         `json:"duration_minutes,omitempty"`
}
