package manager

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/metrics"
)

// TaskInfo is the externally visible state of one task.
type TaskInfo struct {
	ID           string          `json:"id"`
	Status       domain.Status   `json:"status"`
	Priority     domain.Priority `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// WorkerInfo is the externally visible state of one pool slot.
type WorkerInfo struct {
	ID             string    `json:"id"`
	Pid            int       `json:"pid"`
	State          string    `json:"state"` // idle | busy | stopping
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	Restarts       int       `json:"restarts"`
	StartedAt      time.Time `json:"started_at"`
}

// Stats is a point-in-time summary of the whole pool.
type Stats struct {
	Queue      map[domain.Priority]int `json:"queue"`
	Scheduled  int                     `json:"scheduled"`
	InFlight   int                     `json:"in_flight"`
	DeadLetter int                     `json:"dead_letter"`
	Workers    int                     `json:"workers"`
	Metrics    metrics.Snapshot        `json:"metrics"`
}

// TaskStatus reports where a task currently is. Unknown IDs are a
// TaskNotFoundError.
func (m *Manager) TaskStatus(ctx context.Context, id string) (TaskInfo, error) {
	var info TaskInfo
	err := m.do(ctx, func() error {
		for _, h := range m.workers {
			if h.currentTask != nil && h.currentTask.ID == id {
				info = taskInfo(h.currentTask, domain.StatusInFlight)
				info.WorkerID = h.id
				return nil
			}
		}
		if t := m.queue.Find(id); t != nil {
			info = taskInfo(t, domain.StatusPending)
			return nil
		}
		for _, t := range m.scheduled {
			if t.ID == id {
				info = taskInfo(t, domain.StatusScheduled)
				return nil
			}
		}
		for _, d := range m.dead {
			if d.ID == id {
				info = taskInfo(&d.Task, domain.StatusDeadLetter)
				info.LastError = d.LastError
				return nil
			}
		}
		return &domain.TaskNotFoundError{TaskID: id}
	})
	return info, err
}

func taskInfo(t *domain.Task, status domain.Status) TaskInfo {
	return TaskInfo{
		ID:           t.ID,
		Status:       status,
		Priority:     t.Priority,
		RetryCount:   t.RetryCount,
		CreatedAt:    t.CreatedAt,
		ScheduledFor: t.ScheduledFor,
	}
}

// Stats returns queue depths, pool occupancy, and collected metrics.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := m.do(ctx, func() error {
		inFlight := 0
		for _, h := range m.workers {
			if h.currentTask != nil {
				inFlight++
			}
		}
		s = Stats{
			Queue:      m.queue.SizesByTier(),
			Scheduled:  len(m.scheduled),
			InFlight:   inFlight,
			DeadLetter: len(m.dead),
			Workers:    len(m.workers),
			Metrics:    m.stats.Snapshot(),
		}
		return nil
	})
	return s, err
}

// Workers lists all pool slots sorted by worker ID.
func (m *Manager) Workers(ctx context.Context) ([]WorkerInfo, error) {
	var out []WorkerInfo
	err := m.do(ctx, func() error {
		for _, id := range m.sortedWorkerIDs() {
			h := m.workers[id]
			info := WorkerInfo{
				ID:             h.id,
				Pid:            h.proc.Pid(),
				State:          "idle",
				TasksCompleted: h.tasksCompleted,
				TasksFailed:    h.tasksFailed,
				Restarts:       h.restartCount,
				StartedAt:      h.createdAt,
			}
			if h.currentTask != nil {
				info.State = "busy"
				info.CurrentTaskID = h.currentTask.ID
			}
			if h.stopping {
				info.State = "stopping"
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// DeadLetter returns a copy of the dead-letter queue, oldest first.
func (m *Manager) DeadLetter(ctx context.Context) ([]domain.DeadTask, error) {
	var out []domain.DeadTask
	err := m.do(ctx, func() error {
		out = make([]domain.DeadTask, 0, len(m.dead))
		for _, d := range m.dead {
			out = append(out, *d)
		}
		return nil
	})
	return out, err
}

// RequeueDead moves a dead-lettered task back to the ready queue with a
// fresh retry budget.
func (m *Manager) RequeueDead(ctx context.Context, id string) error {
	return m.do(ctx, func() error {
		if m.closed {
			return &domain.ShuttingDownError{}
		}
		for i, d := range m.dead {
			if d.ID != id {
				continue
			}
			m.dead = append(m.dead[:i], m.dead[i+1:]...)
			task := d.Task
			task.RetryCount = 0
			task.ScheduledFor = nil
			_ = m.queue.Enqueue(&task)
			m.logger.Info("dead-letter task requeued", slog.String("task_id", id))
			m.persist()
			m.processReady()
			return nil
		}
		return &domain.TaskNotFoundError{TaskID: id}
	})
}

func (m *Manager) sortedWorkerIDs() []string {
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
