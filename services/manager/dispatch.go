package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-task-pool/internal/cache"
	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
)

// processReady matches queued tasks with capacity: cached results complete
// immediately without a worker slot, everything else goes to an idle worker
// in strict tier order. Control loop only.
func (m *Manager) processReady() {
	if m.closed {
		return
	}
	for {
		next := m.queue.Peek()
		if next == nil {
			break
		}

		if result, ok := m.cacheGet(next.Payload); ok {
			m.queue.Dequeue()
			m.stats.IncCacheHit()
			m.stats.IncCompleted()
			telemetry.ManagerTasksCompleted.WithLabelValues("cache").Inc()
			m.logger.Info("task completed from cache", slog.String("task_id", next.ID))
			m.notifyWaiters(next.ID, result, nil)
			m.persist()
			continue
		}

		h := m.idleWorker()
		if h == nil {
			break
		}
		m.queue.Dequeue()
		m.assign(h, next)
	}
	m.updateQueueGauges()
}

func (m *Manager) idleWorker() *workerHandle {
	for _, h := range m.workers {
		if h.idle() {
			return h
		}
	}
	return nil
}

// assign delivers a task to a worker. A failed write means the process is
// broken; killing it routes the task through the crash-requeue path.
func (m *Manager) assign(h *workerHandle, task *domain.Task) {
	h.currentTask = task
	h.startedAt = time.Now()

	env := protocol.Envelope{Type: protocol.TypeTask, TaskID: task.ID, Data: task.Payload}
	if err := h.proc.Send(env); err != nil {
		m.logger.Error("failed to deliver task, killing worker",
			slog.String("worker_id", h.id),
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		_ = h.proc.Kill()
		return
	}

	m.logger.Debug("task assigned",
		slog.String("task_id", task.ID),
		slog.String("worker_id", h.id),
	)
}

func (m *Manager) onTaskComplete(h *workerHandle, env protocol.Envelope) {
	task := h.currentTask
	if task == nil || task.ID != env.TaskID {
		m.logger.Warn("stale completion from worker",
			slog.String("worker_id", h.id),
			slog.String("task_id", env.TaskID),
		)
		return
	}

	d := time.Since(h.startedAt)
	h.currentTask = nil
	h.tasksCompleted++

	m.stats.Observe(d)
	m.stats.IncCompleted()
	telemetry.ManagerTasksCompleted.WithLabelValues("worker").Inc()
	telemetry.ManagerTaskDurationSeconds.Observe(d.Seconds())

	m.cacheSet(task.Payload, env.Data)
	m.logger.Info("task completed",
		slog.String("task_id", task.ID),
		slog.String("worker_id", h.id),
		slog.Int64("duration_ms", d.Milliseconds()),
	)

	m.notifyWaiters(task.ID, env.Data, nil)
	m.persist()
	m.processReady()
}

func (m *Manager) onTaskError(h *workerHandle, env protocol.Envelope) {
	task := h.currentTask
	if task == nil || task.ID != env.TaskID {
		m.logger.Warn("stale failure from worker",
			slog.String("worker_id", h.id),
			slog.String("task_id", env.TaskID),
		)
		return
	}

	h.currentTask = nil
	h.tasksFailed++
	m.stats.IncFailed()
	telemetry.ManagerTasksFailed.Inc()

	m.retryOrBury(task, env.Error)
	m.persist()
	m.processReady()
}

// cacheGet and cacheSet bound backend calls so a slow Redis cannot stall the
// control loop for long. Cache errors degrade to a miss.
func (m *Manager) cacheGet(payload []byte) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, ok, err := m.cache.Get(ctx, cache.Key(payload))
	if err != nil {
		m.logger.Warn("cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	return result, ok
}

func (m *Manager) cacheSet(payload, result []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cache.Set(ctx, cache.Key(payload), result); err != nil {
		m.logger.Warn("cache write failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) updateQueueGauges() {
	for tier, n := range m.queue.SizesByTier() {
		telemetry.ManagerQueueDepth.WithLabelValues(string(tier)).Set(float64(n))
	}
}
