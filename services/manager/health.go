package manager

import (
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
)

// healthTick evaluates outstanding probes and sends the next round. A worker
// that misses healthThreshold consecutive probes is killed; the crash path
// requeues its task and relaunches it with backoff. Control loop only.
func (m *Manager) healthTick(now time.Time) {
	for _, h := range m.workers {
		if h.stopping {
			continue
		}

		if h.probePending {
			if now.Sub(h.probeSentAt) < m.opts.healthTimeout {
				continue
			}
			h.probePending = false
			h.healthFailures++
			telemetry.PoolHealthProbeFailures.Inc()
			m.logger.Warn("health probe timed out",
				slog.String("worker_id", h.id),
				slog.Int("consecutive_failures", h.healthFailures),
			)
			if m.escalate(h) {
				continue
			}
		}

		if err := h.proc.Send(protocol.Envelope{Type: protocol.TypeHealthCheck}); err != nil {
			h.healthFailures++
			telemetry.PoolHealthProbeFailures.Inc()
			m.logger.Warn("health probe send failed",
				slog.String("worker_id", h.id),
				slog.String("error", err.Error()),
			)
			m.escalate(h)
			continue
		}
		h.probePending = true
		h.probeSentAt = now
	}
}

// escalate kills a worker that crossed the failure threshold. Returns true
// when the worker was killed.
func (m *Manager) escalate(h *workerHandle) bool {
	if h.healthFailures < m.opts.healthThreshold {
		return false
	}
	m.logger.Error("worker unresponsive, killing",
		slog.String("worker_id", h.id),
		slog.Int("consecutive_failures", h.healthFailures),
	)
	_ = h.proc.Kill()
	return true
}
