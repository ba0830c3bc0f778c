package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chronicle/internal/domain"
	"chronicle/internal/journal"
)

// JobTypeExecution is the queue job type for background prompt execution.
const JobTypeExecution = "prompt-execution"

type executionPayload struct {
	PromptID string `json:"prompt_id"`
}

// RunExecutionJob is the queue handler for prompt-execution jobs. Delivery
// is at least once: a prompt that already left executing is treated as done
// rather than an error, so duplicate deliveries are harmless.
func (e Engine) RunExecutionJob(ctx context.Context, job domain.Job) error {
	var payload executionPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("decode execution payload: %w", err)
	}
	if payload.PromptID == "" {
		return fmt.Errorf("execution payload missing prompt_id")
	}
	p, err := e.Repo.GetPrompt(ctx, payload.PromptID)
	if err != nil {
		return err
	}
	if p.Status != domain.PromptExecuting {
		slog.Info("skipping execution for prompt no longer executing", "prompt_id", p.ID, "status", p.Status)
		return nil
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Journal.Append(ctx, tx, "prompt.executed", "prompt", p.ID, "system", journal.Payload{
		"job_id":      job.ID,
		"attempt":     job.Attempts,
		"executed_at": now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
