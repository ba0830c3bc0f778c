package server

import (
	"chronicle/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Type           string  `json:"type"`
	Mode           string  `json:"mode,omitempty" enum:"ASSISTED,AUTONOMOUS"`
	Priority       *int    `json:"priority,omitempty"`
	OwnerType      string  `json:"owner_type" enum:"AI,HUMAN,SYSTEM"`
	OwnerID        string  `json:"owner_id,omitempty"`
	SubjectRefType string  `json:"subject_ref_type"`
	SubjectRefID   string  `json:"subject_ref_id"`
	Payload        *string `json:"payload,omitempty"`
	DueAt          *string `json:"due_at,omitempty" format:"date-time"`
	Source         string  `json:"source,omitempty"`
}

type TransitionTaskRequest struct {
	NewStatus   string  `json:"new_status" enum:"PENDING,SCHEDULED,IN_PROGRESS,COMPLETED,FAILED,CANCELLED"`
	ScheduledAt *string `json:"scheduled_at,omitempty" format:"date-time"`
	ActorType   string  `json:"actor_type" enum:"AI,HUMAN,SYSTEM"`
	ActorID     string  `json:"actor_id,omitempty"`
}

type CreateActRequest struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Cycle       string   `json:"cycle,omitempty" enum:"daily,seasonal,epochal"`
	Body        *string  `json:"body,omitempty"`
	LineageTags []string `json:"lineage_tags,omitempty"`
}

type SealActRequest struct {
	StampedBy string `json:"stamped_by,omitempty"`
}

type CreatePromptRequest struct {
	DashboardID string `json:"dashboard_id,omitempty"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
}

type CreateDraftRequest struct {
	TaskID         string  `json:"task_id"`
	Subject        string  `json:"subject"`
	BodyText       string  `json:"body_text"`
	BodyHTML       *string `json:"body_html,omitempty"`
	RecipientEmail string  `json:"recipient_email"`
	RecipientType  string  `json:"recipient_type,omitempty"`
	Metadata       *string `json:"metadata,omitempty"`
}

type UpdateDraftStatusRequest struct {
	Status string `json:"status" enum:"PENDING,APPROVED,SENT,DISCARDED"`
}

type DispatchCapsuleRequest struct {
	Targets  []string          `json:"targets"`
	Assets   map[string]string `json:"assets,omitempty"`
	Schedule string            `json:"schedule,omitempty"`
}

// Response payloads

type TaskResponse struct {
	Task domain.Task `json:"task"`
}

type TaskListResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type TaskEventsResponse struct {
	Events []domain.TaskEvent `json:"events"`
}

type ActResponse struct {
	Act  domain.Act   `json:"act"`
	Seal *domain.Seal `json:"seal,omitempty"`
}

type ActListResponse struct {
	Acts []domain.Act `json:"acts"`
}

type SealResponse struct {
	Seal domain.Seal `json:"seal"`
}

type ActIndexResponse struct {
	Counts map[string]int `json:"counts"`
}

type PromptResponse struct {
	Prompt    domain.Prompt     `json:"prompt"`
	Approvals []domain.Approval `json:"approvals,omitempty"`
}

type PromptListResponse struct {
	Prompts []domain.Prompt `json:"prompts"`
}

type ApprovePromptResponse struct {
	Prompt domain.Prompt `json:"prompt"`
	Seal   domain.Seal   `json:"seal"`
}

type DraftResponse struct {
	Draft domain.MessageDraft `json:"draft"`
}

type DraftListResponse struct {
	Drafts []domain.MessageDraft `json:"drafts"`
}

type DispatchResponse struct {
	OK    bool   `json:"ok"`
	ActID string `json:"act_id"`
}

type JournalResponse struct {
	Entries []domain.JournalEntry `json:"entries"`
}

type StatusResponse struct {
	ProjectID  string         `json:"project_id"`
	TaskCounts map[string]int `json:"task_counts"`
	ActCounts  map[string]int `json:"act_counts"`
	JobCounts  map[string]int `json:"job_counts"`
}

func taskFromCreate(req CreateTaskRequest) (string, string) {
	payload := ""
	if req.Payload != nil {
		payload = *req.Payload
	}
	due := ""
	if req.DueAt != nil {
		due = *req.DueAt
	}
	return payload, due
}
