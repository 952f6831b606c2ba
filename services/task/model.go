package task

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusExhausted = "exhausted"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// JobRun is an execution record of one staking task for one plan. Cursor is
// where the next run of the same (task, plan) resumes; empty means from the
// first user.
type JobRun struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	Task        string         `gorm:"column:task;index:idx_job_runs_task_plan;type:varchar(100);not null"`
	PlanID      string         `gorm:"column:plan_id;index:idx_job_runs_task_plan;type:varchar(32)"`
	Status      string         `gorm:"column:status;type:varchar(20);default:'running'"`
	Processed   int            `gorm:"column:processed;not null;default:0"`
	Failed      int            `gorm:"column:failed;not null;default:0"`
	Cursor      string         `gorm:"column:cursor;type:text"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   time.Time      `gorm:"column:started_at;not null"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}

func (JobRun) TableName() string { return "job_runs" }
