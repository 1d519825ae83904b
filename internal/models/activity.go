package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is one append-only audit entry. ActorID 0 with role "system" marks
// entries written by the portal itself, such as deadline auto-submits.
type ActivityLog struct {
	ID            uint              `gorm:"primaryKey"`
	ActorID       uint              `gorm:"index;not null"`
	ActorRole     string            `gorm:"size:16;not null"`
	Action        string            `gorm:"size:64;index;not null"`
	EntityType    string            `gorm:"size:32;not null;index:idx_activity_entity,priority:1"`
	EntityID      *uint             `gorm:"index:idx_activity_entity,priority:2"`
	Metadata      datatypes.JSONMap `gorm:"type:json"`
	CorrelationID string            `gorm:"size:128"`
	CreatedAt     time.Time         `gorm:"index"`
}

// TableName keeps the audit table name stable across renames of the Go type.
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// All returns every model that takes part in schema migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Question{},
		&Exam{},
		&ExamQuestion{},
		&Enrollment{},
		&Submission{},
		&SubmissionAnswer{},
		&Violation{},
		&ActivityLog{},
	}
}
