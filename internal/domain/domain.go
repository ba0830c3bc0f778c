package domain

// Task statuses. The transition table lives in the engine package.
const (
	TaskPending    = "PENDING"
	TaskScheduled  = "SCHEDULED"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskFailed     = "FAILED"
	TaskCancelled  = "CANCELLED"
)

// Task modes.
const (
	ModeAssisted   = "ASSISTED"
	ModeAutonomous = "AUTONOMOUS"
)

// Owner/actor types.
const (
	OwnerAI     = "AI"
	OwnerHuman  = "HUMAN"
	OwnerSystem = "SYSTEM"
)

// Act lifecycle.
const (
	ActDraft  = "draft"
	ActSealed = "sealed"
)

// Act cycles.
const (
	CycleDaily    = "daily"
	CycleSeasonal = "seasonal"
	CycleEpochal  = "epochal"
)

// Prompt statuses.
const (
	PromptInReview  = "in_review"
	PromptExecuting = "executing"
	PromptClosed    = "closed"
)

// Draft statuses.
const (
	DraftPending   = "PENDING"
	DraftApproved  = "APPROVED"
	DraftSent      = "SENT"
	DraftDiscarded = "DISCARDED"
)

// Job statuses for the durable work queue.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// SubjectRef is a tagged reference to the business object a task concerns.
type SubjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Task struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Mode        string     `json:"mode" enum:"ASSISTED,AUTONOMOUS"`
	Priority    *int       `json:"priority,omitempty"`
	OwnerType   string     `json:"owner_type" enum:"AI,HUMAN,SYSTEM"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Subject     SubjectRef `json:"subject"`
	PayloadJSON *string    `json:"payload_json,omitempty"`
	Status      string     `json:"status" enum:"PENDING,SCHEDULED,IN_PROGRESS,COMPLETED,FAILED,CANCELLED"`
	DueAt       *string    `json:"due_at,omitempty" format:"date-time"`
	ScheduledAt *string    `json:"scheduled_at,omitempty" format:"date-time"`
	StartedAt   *string    `json:"started_at,omitempty" format:"date-time"`
	FinishedAt  *string    `json:"finished_at,omitempty" format:"date-time"`
	Source      string     `json:"source,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

// Terminal reports whether the task status admits no further transition.
func (t Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskEvent is one row of a task's append-only transition audit trail.
type TaskEvent struct {
	ID         int64  `json:"id"`
	TaskID     string `json:"task_id"`
	ActorType  string `json:"actor_type" enum:"AI,HUMAN,SYSTEM"`
	ActorID    string `json:"actor_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Act is a ledger entry. Once sealed it never changes.
type Act struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Cycle       string   `json:"cycle" enum:"daily,seasonal,epochal"`
	Status      string   `json:"status"`
	LineageTags []string `json:"lineage_tags"`
	PayloadJSON *string  `json:"payload_json,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Seal is the one-time stamp that freezes an Act.
type Seal struct {
	ID        string  `json:"id"`
	ActID     string  `json:"act_id"`
	SealCode  string  `json:"seal_code"`
	StampedBy *string `json:"stamped_by,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Prompt struct {
	ID          string `json:"id"`
	DashboardID string `json:"dashboard_id,omitempty"`
	IssuerID    string `json:"issuer_id"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	Status      string `json:"status" enum:"in_review,executing,closed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Approval struct {
	ID         string `json:"id"`
	PromptID   string `json:"prompt_id"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type MessageDraft struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"task_id"`
	Subject        string  `json:"subject"`
	BodyText       string  `json:"body_text"`
	BodyHTML       *string `json:"body_html,omitempty"`
	RecipientEmail string  `json:"recipient_email"`
	RecipientType  string  `json:"recipient_type,omitempty"`
	MetadataJSON   *string `json:"metadata_json,omitempty"`
	Status         string  `json:"status" enum:"PENDING,APPROVED,SENT,DISCARDED"`
	SentAt         *string `json:"sent_at,omitempty" format:"date-time"`
	SentByUserID   *string `json:"sent_by_user_id,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Terminal reports whether the draft can no longer change status.
func (d MessageDraft) Terminal() bool {
	return d.Status == DraftSent || d.Status == DraftDiscarded
}

// Job is a durable background work item, delivered at least once.
type Job struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	PayloadJSON string `json:"payload_json"`
	Status      string `json:"status" enum:"queued,running,done,failed"`
	Attempts    int    `json:"attempts"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// JournalEntry is one row of the system-wide audit journal.
type JournalEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a caller and maps it to an actor id.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
