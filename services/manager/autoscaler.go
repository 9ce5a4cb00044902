package manager

import (
	"log/slog"

	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
)

// scaleTick adjusts the pool toward the configured load watermarks. Load is
// ready tasks per active worker. Scale-down only ever retires an idle
// worker; busy workers are never interrupted. Control loop only.
func (m *Manager) scaleTick() {
	active := 0
	for _, h := range m.workers {
		if !h.stopping {
			active++
		}
	}

	pending := m.queue.Len()
	load := float64(pending) / float64(max(active, 1))

	if load > m.opts.scaleUpLoad && active < m.opts.maxWorkers {
		m.logger.Info("scaling up",
			slog.Int("active", active),
			slog.Int("pending", pending),
			slog.Float64("load", load),
		)
		m.spawnWorker("", 0)
		return
	}

	if load < m.opts.scaleDownLoad && active > m.opts.minWorkers {
		for _, h := range m.workers {
			if !h.idle() {
				continue
			}
			h.stopping = true
			m.logger.Info("retiring idle worker",
				slog.String("worker_id", h.id),
				slog.Int("active", active),
				slog.Float64("load", load),
			)
			if err := h.proc.Send(protocol.Envelope{Type: protocol.TypeShutdown}); err != nil {
				_ = h.proc.Kill()
			}
			return
		}
	}
}
