package models

import (
	"time"

	"gorm.io/gorm"
)

// Lesson groups materials; lessons nest through ParentLessonID
type Lesson struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CourseID       uint   `gorm:"index" json:"course_id"`
	ParentLessonID *uint  `gorm:"index" json:"parent_lesson_id"`
	Title          string `gorm:"type:varchar(255)" json:"title"`
	OrderIndex     int    `gorm:"default:0" json:"order_index"`
	IsPublished    bool   `gorm:"default:true" json:"is_published"`
}
