package manager

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/pkg/backoff"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
)

// retryOrBury handles one reported task failure: schedule a delayed retry
// while budget remains, otherwise move the task to the dead-letter queue.
// Control loop only.
func (m *Manager) retryOrBury(task *domain.Task, lastErr string) {
	if task.RetryCount < m.opts.maxRetries {
		task.RetryCount++
		delay := backoff.Retry(task.RetryCount, m.opts.retryBase, m.opts.retryMax)
		at := time.Now().UTC().Add(delay)
		task.ScheduledFor = &at
		m.scheduled = append(m.scheduled, task)
		m.logger.Warn("task failed, retry scheduled",
			slog.String("task_id", task.ID),
			slog.Int("retry_count", task.RetryCount),
			slog.Duration("delay", delay),
			slog.String("error", lastErr),
		)
		return
	}

	dead := &domain.DeadTask{Task: *task, LastError: lastErr, FailedAt: time.Now().UTC()}
	m.dead = append(m.dead, dead)
	m.stats.IncDeadLettered()
	telemetry.ManagerTasksDeadLettered.Inc()
	m.logger.Error("task dead-lettered",
		slog.String("task_id", task.ID),
		slog.Int("retry_count", task.RetryCount),
		slog.String("error", lastErr),
	)

	m.notifyWaiters(task.ID, nil, &domain.TaskDeadError{TaskID: task.ID, LastError: lastErr})
	m.publishDeadNotice(dead)
}

// sweepScheduled promotes due scheduled tasks into the ready queue.
func (m *Manager) sweepScheduled(now time.Time) {
	moved := 0
	keep := m.scheduled[:0]
	for _, task := range m.scheduled {
		if task.Due(now) {
			task.ScheduledFor = nil
			_ = m.queue.Enqueue(task)
			moved++
		} else {
			keep = append(keep, task)
		}
	}
	m.scheduled = keep

	if moved > 0 {
		m.logger.Debug("promoted scheduled tasks", slog.Int("count", moved))
		m.persist()
		m.processReady()
	}
}

// publishDeadNotice emits a dead-letter notice to Kafka when a producer is
// configured. Best effort, off the control loop.
func (m *Manager) publishDeadNotice(dead *domain.DeadTask) {
	if m.dlq == nil {
		return
	}
	payload, err := json.Marshal(dead)
	if err != nil {
		return
	}
	topic := m.opts.dlqTopic
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.dlq.Publish(ctx, topic, dead.ID, payload); err != nil {
			m.logger.Error("failed to publish dead-letter notice",
				slog.String("task_id", dead.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
