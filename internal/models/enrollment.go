package models

import "time"

// Enrollment grants a student access to a course. Rows are never deleted;
// one row exists per (course, student) pair.
type Enrollment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CourseID    uint             `gorm:"uniqueIndex:idx_enrollments_course_student,priority:1" json:"course_id"`
	StudentID   uint             `gorm:"uniqueIndex:idx_enrollments_course_student,priority:2;index" json:"student_id"`
	Status      EnrollmentStatus `gorm:"type:varchar(20);default:'active'" json:"status"`
	Progress    int              `gorm:"default:0;check:progress >= 0 AND progress <= 100" json:"progress"`
	EnrolledAt  time.Time        `json:"enrolled_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// GrantsAccess reports whether the enrollment unlocks paid material
func (e *Enrollment) GrantsAccess() bool {
	return e != nil && e.Status == EnrollmentStatusActive
}
