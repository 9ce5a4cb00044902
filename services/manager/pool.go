package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
	"github.com/ramiqadoumi/go-task-pool/pkg/backoff"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
)

// EventKind discriminates pool events delivered to the control loop.
type EventKind int

const (
	// EventMessage carries an envelope read from a worker's stdout.
	EventMessage EventKind = iota + 1
	// EventExit reports that a worker process terminated.
	EventExit
)

// Event is one occurrence on a worker's pipe, tagged with the launch
// generation so events from a replaced process can be discarded.
type Event struct {
	WorkerID string
	Gen      int
	Kind     EventKind
	Env      protocol.Envelope // set when Kind == EventMessage
	Err      error             // set when Kind == EventExit and the exit was abnormal
	ExitCode int
}

// Proc is the manager's handle on a running worker process.
type Proc interface {
	Send(env protocol.Envelope) error
	Kill() error
	Pid() int
}

// Launcher starts worker processes. The returned Proc accepts envelopes;
// everything the process emits arrives on the events channel.
type Launcher interface {
	Launch(ctx context.Context, workerID string, gen int, events chan<- Event) (Proc, error)
}

// ExecLauncher spawns real worker processes from a binary path. The worker's
// stdin/stdout carry the envelope protocol; stderr passes through so worker
// logs land next to the manager's.
type ExecLauncher struct {
	Bin  string
	Args []string
}

var _ Launcher = (*ExecLauncher)(nil)

func (l *ExecLauncher) Launch(ctx context.Context, workerID string, gen int, events chan<- Event) (Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(l.Bin, l.Args...)
	cmd.Env = append(os.Environ(), "TASKPOOL_WORKER_ID="+workerID)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", l.Bin, err)
	}

	go func() {
		dec := protocol.NewDecoder(stdout)
		for {
			env, err := dec.Decode()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					// A garbled stdout means the process is unusable; the
					// exit event below takes over.
					_ = cmd.Process.Kill()
				}
				break
			}
			events <- Event{WorkerID: workerID, Gen: gen, Kind: EventMessage, Env: env}
		}

		werr := cmd.Wait()
		events <- Event{
			WorkerID: workerID,
			Gen:      gen,
			Kind:     EventExit,
			Err:      werr,
			ExitCode: cmd.ProcessState.ExitCode(),
		}
	}()

	return &execProc{cmd: cmd, enc: protocol.NewEncoder(stdin)}, nil
}

type execProc struct {
	cmd *exec.Cmd
	enc *protocol.Encoder
}

func (p *execProc) Send(env protocol.Envelope) error { return p.enc.Encode(env) }
func (p *execProc) Kill() error                      { return p.cmd.Process.Kill() }
func (p *execProc) Pid() int                         { return p.cmd.Process.Pid }

// workerHandle is the control loop's view of one pool slot. All fields are
// owned by the control loop goroutine.
type workerHandle struct {
	id   string
	gen  int
	proc Proc

	currentTask *domain.Task
	startedAt   time.Time

	tasksCompleted int
	tasksFailed    int
	restartCount   int

	probePending   bool
	probeSentAt    time.Time
	healthFailures int

	stopping  bool
	createdAt time.Time
}

func (h *workerHandle) idle() bool { return h.currentTask == nil && !h.stopping }

// spawnWorker launches a (possibly replacement) worker process. An empty id
// allocates a fresh worker identity; restarts carries the crash count across
// relaunches of the same identity.
func (m *Manager) spawnWorker(id string, restarts int) {
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	m.nextGen++
	gen := m.nextGen

	proc, err := m.launcher.Launch(m.runCtx, id, gen, m.events)
	if err != nil {
		m.logger.Error("failed to launch worker",
			slog.String("worker_id", id),
			slog.String("error", err.Error()),
		)
		// A launch failure consumes restart budget the same way a crash
		// does, or a missing binary would be retried forever.
		if restarts >= m.opts.maxRestarts {
			telemetry.PoolWorkersLostTotal.Inc()
			m.logger.Error("worker lost, restart budget exhausted",
				slog.String("worker_id", id),
				slog.Int("restarts", restarts),
			)
			return
		}
		m.scheduleRestart(id, restarts)
		return
	}

	m.workers[id] = &workerHandle{
		id:           id,
		gen:          gen,
		proc:         proc,
		restartCount: restarts,
		createdAt:    time.Now(),
	}
	telemetry.PoolWorkersActive.Set(float64(len(m.workers)))
	m.logger.Info("worker started",
		slog.String("worker_id", id),
		slog.Int("pid", proc.Pid()),
		slog.Int("restarts", restarts),
	)
	m.processReady()
}

// handleEvent routes a pool event to the right worker handle, dropping events
// from superseded process generations.
func (m *Manager) handleEvent(ev Event) {
	h, ok := m.workers[ev.WorkerID]
	if !ok || h.gen != ev.Gen {
		m.logger.Debug("dropping stale worker event", slog.String("worker_id", ev.WorkerID))
		return
	}
	switch ev.Kind {
	case EventMessage:
		m.onMessage(h, ev.Env)
	case EventExit:
		m.onExit(h, ev)
	}
}

func (m *Manager) onMessage(h *workerHandle, env protocol.Envelope) {
	if err := env.Validate(); err != nil {
		m.logger.Warn("invalid envelope from worker",
			slog.String("worker_id", h.id),
			slog.String("error", err.Error()),
		)
		return
	}

	switch env.Type {
	case protocol.TypeTaskComplete:
		m.onTaskComplete(h, env)
	case protocol.TypeTaskError:
		m.onTaskError(h, env)
	case protocol.TypeHealthCheckResponse:
		h.probePending = false
		h.healthFailures = 0
	default:
		m.logger.Warn("unexpected envelope type from worker",
			slog.String("worker_id", h.id),
			slog.String("type", env.Type),
		)
	}
}

// onExit handles worker termination: orderly retirement, shutdown drain, or a
// crash that requeues the in-flight task and schedules a relaunch.
func (m *Manager) onExit(h *workerHandle, ev Event) {
	delete(m.workers, h.id)
	telemetry.PoolWorkersActive.Set(float64(len(m.workers)))

	if task := h.currentTask; task != nil {
		// A crash mid-task does not charge the task's retry budget.
		h.currentTask = nil
		_ = m.queue.Enqueue(task)
		m.logger.Warn("requeued task from dead worker",
			slog.String("worker_id", h.id),
			slog.String("task_id", task.ID),
		)
		m.persist()
	}

	if m.closed || h.stopping {
		m.logger.Info("worker stopped",
			slog.String("worker_id", h.id),
			slog.Int("exit_code", ev.ExitCode),
		)
		return
	}

	m.logger.Error("worker exited unexpectedly",
		slog.String("worker_id", h.id),
		slog.Int("exit_code", ev.ExitCode),
	)

	if h.restartCount >= m.opts.maxRestarts {
		telemetry.PoolWorkersLostTotal.Inc()
		m.logger.Error("worker lost, restart budget exhausted",
			slog.String("worker_id", h.id),
			slog.Int("restarts", h.restartCount),
		)
		m.processReady()
		return
	}

	m.scheduleRestart(h.id, h.restartCount)
	m.processReady()
}

// scheduleRestart relaunches a worker identity after an exponential delay.
func (m *Manager) scheduleRestart(id string, restarts int) {
	delay := backoff.Restart(restarts, m.opts.restartBase, m.opts.restartMax)
	next := restarts + 1
	m.stats.IncRestarted()
	telemetry.PoolWorkerRestartsTotal.Inc()
	m.logger.Warn("scheduling worker restart",
		slog.String("worker_id", id),
		slog.Duration("delay", delay),
		slog.Int("restarts", next),
	)
	time.AfterFunc(delay, func() {
		m.post(func() {
			if m.closed {
				return
			}
			m.spawnWorker(id, next)
		})
	})
}
