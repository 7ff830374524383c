package model

import (
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
)

// Task is one queued analysis of one logical unit.
//
// Ordering is by ID (submission order). Status only moves forward:
// PENDING -> IN_PROGRESS -> SUCCESS|FAILED|CANCELED, except orphan recovery
// which moves IN_PROGRESS back to PENDING at startup.
type Task struct {
	ID           int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID         string            `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	UnitRef      string            `gorm:"type:varchar(255);index;not null" json:"unit_ref"`
	Payload      string            `gorm:"type:text" json:"-"`
	Status       consts.TaskStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Attempt      int               `gorm:"not null;default:0" json:"attempt"`
	ErrorMessage string            `gorm:"type:text" json:"error_message,omitempty"`
	SubmittedAt  time.Time         `gorm:"not null" json:"submitted_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	Outcomes     []StepOutcome     `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"outcomes"`
}

func (Task) TableName() string { return "ce_tasks" }

// StepOutcome is one append-only entry of a task's audit trail.
type StepOutcome struct {
	ID         int64             `gorm:"primaryKey;autoIncrement" json:"-"`
	TaskID     int64             `gorm:"index:idx_outcome_task_seq,priority:1;not null" json:"-"`
	Seq        int               `gorm:"index:idx_outcome_task_seq,priority:2;not null" json:"seq"`
	StepName   string            `gorm:"type:varchar(64);not null" json:"step"`
	Result     consts.StepResult `gorm:"type:varchar(8);not null" json:"result"`
	Message    string            `gorm:"type:text" json:"message,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

func (StepOutcome) TableName() string { return "ce_step_outcomes" }

// TaskFilters provides optional list query conditions.
type TaskFilters struct {
	Status  consts.TaskStatus
	UnitRef string
	Limit   int
	Offset  int
}
