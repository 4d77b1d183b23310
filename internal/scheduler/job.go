package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// JobKind identifies the kind of work a scheduled job performs.
type JobKind string

const (
	KindReminderFire     JobKind = "reminder_fire"
	KindAutoMissCheck    JobKind = "auto_miss_check"
	KindMonthEndLearn    JobKind = "month_end_learn"
	KindMonthlyRecalc    JobKind = "monthly_recalc"
	KindHourlyMaintenance JobKind = "hourly_maintenance"
)

// JobStatus is a scheduled job's lifecycle state.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a durable, uniquely-keyed one-shot timer entry. (Kind, Key)
// identifies the job; re-arming the same (Kind, Key) replaces the pending
// job rather than creating a second one.
type Job struct {
	ID      string
	Kind    JobKind
	Key     string
	FireAt  time.Time
	Payload json.RawMessage
	Status  JobStatus
}

// Handler executes one job kind. Handlers must be idempotent: a job may be
// delivered more than once across a restart.
type Handler func(ctx context.Context, job Job) error
