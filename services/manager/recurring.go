package manager

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

// RecurringJob submits the same payload on a cron schedule.
type RecurringJob struct {
	Name     string
	Spec     string // standard 5-field cron expression
	Priority domain.Priority
	Payload  json.RawMessage
}

type recurringEntry struct {
	job      RecurringJob
	schedule cron.Schedule
	next     time.Time
}

// RecurringRunner fires recurring jobs into the manager. Missed windows are
// not replayed: after a restart each job resumes from its next occurrence.
type RecurringRunner struct {
	mgr     *Manager
	entries []recurringEntry
	logger  *slog.Logger
}

// NewRecurringRunner parses all job schedules up front; a bad cron spec or
// priority is a ConfigurationError.
func NewRecurringRunner(mgr *Manager, jobs []RecurringJob, logger *slog.Logger) (*RecurringRunner, error) {
	now := time.Now()
	entries := make([]recurringEntry, 0, len(jobs))
	for _, job := range jobs {
		schedule, err := cron.ParseStandard(job.Spec)
		if err != nil {
			return nil, &domain.ConfigurationError{
				Field:  "recurring." + job.Name,
				Reason: "bad cron spec " + job.Spec + ": " + err.Error(),
			}
		}
		if job.Priority != "" && !job.Priority.Valid() {
			return nil, &domain.ConfigurationError{
				Field:  "recurring." + job.Name,
				Reason: "unknown priority tier " + string(job.Priority),
			}
		}
		entries = append(entries, recurringEntry{
			job:      job,
			schedule: schedule,
			next:     schedule.Next(now),
		})
	}
	return &RecurringRunner{mgr: mgr, entries: entries, logger: logger}, nil
}

// Run fires due jobs until ctx is cancelled.
func (r *RecurringRunner) Run(ctx context.Context) {
	if len(r.entries) == 0 {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *RecurringRunner) tick(ctx context.Context, now time.Time) {
	for i := range r.entries {
		e := &r.entries[i]
		if now.Before(e.next) {
			continue
		}
		e.next = e.schedule.Next(now)

		id, err := r.mgr.Submit(ctx, SubmitRequest{
			Payload:  e.job.Payload,
			Priority: e.job.Priority,
		})
		if err != nil {
			r.logger.Error("recurring job submission failed",
				slog.String("job", e.job.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("recurring job fired",
			slog.String("job", e.job.Name),
			slog.String("task_id", id),
			slog.Time("next_run", e.next),
		)
	}
}
