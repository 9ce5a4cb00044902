// Package manager implements the supervising side of the task pool: it owns
// the priority queue, the worker process pool, retry and dead-letter
// handling, crash-recoverable persistence, and the query surface. All mutable
// state belongs to a single control-loop goroutine; external callers reach it
// through commands posted on a channel.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-task-pool/internal/cache"
	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/kafka"
	"github.com/ramiqadoumi/go-task-pool/internal/metrics"
	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
	"github.com/ramiqadoumi/go-task-pool/internal/queue"
	"github.com/ramiqadoumi/go-task-pool/internal/store"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
)

type options struct {
	poolSize   int
	minWorkers int
	maxWorkers int

	maxRestarts int
	restartBase time.Duration
	restartMax  time.Duration

	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration

	sweepInterval time.Duration

	healthInterval  time.Duration
	healthTimeout   time.Duration
	healthThreshold int

	scaleInterval time.Duration
	scaleUpLoad   float64
	scaleDownLoad float64

	shutdownTimeout time.Duration
	metricsWindow   int

	dlqTopic string
}

func defaultOptions() options {
	return options{
		poolSize:        4,
		minWorkers:      1,
		maxWorkers:      8,
		maxRestarts:     5,
		restartBase:     time.Second,
		restartMax:      30 * time.Second,
		maxRetries:      3,
		retryBase:       time.Second,
		retryMax:        60 * time.Second,
		sweepInterval:   500 * time.Millisecond,
		healthInterval:  10 * time.Second,
		healthTimeout:   3 * time.Second,
		healthThreshold: 3,
		scaleInterval:   15 * time.Second,
		scaleUpLoad:     4.0,
		scaleDownLoad:   0.5,
		shutdownTimeout: 30 * time.Second,
	}
}

// Option configures a Manager.
type Option func(*Manager)

func WithPoolSize(n int) Option         { return func(m *Manager) { m.opts.poolSize = n } }
func WithWorkerBounds(lo, hi int) Option {
	return func(m *Manager) { m.opts.minWorkers, m.opts.maxWorkers = lo, hi }
}
func WithMaxRestarts(n int) Option { return func(m *Manager) { m.opts.maxRestarts = n } }
func WithRestartBackoff(base, max time.Duration) Option {
	return func(m *Manager) { m.opts.restartBase, m.opts.restartMax = base, max }
}
func WithMaxRetries(n int) Option { return func(m *Manager) { m.opts.maxRetries = n } }
func WithRetryBackoff(base, max time.Duration) Option {
	return func(m *Manager) { m.opts.retryBase, m.opts.retryMax = base, max }
}
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.opts.sweepInterval = d }
}
// WithHealthCheck tunes worker liveness probing. A worker answers probes from
// its single read loop, so a busy worker stays silent for the whole task.
// Keep interval*threshold above the worker's task timeout or long-running
// tasks get their healthy worker killed mid-execution.
func WithHealthCheck(interval, timeout time.Duration, threshold int) Option {
	return func(m *Manager) {
		m.opts.healthInterval, m.opts.healthTimeout, m.opts.healthThreshold = interval, timeout, threshold
	}
}
func WithAutoscale(interval time.Duration, downLoad, upLoad float64) Option {
	return func(m *Manager) {
		m.opts.scaleInterval, m.opts.scaleDownLoad, m.opts.scaleUpLoad = interval, downLoad, upLoad
	}
}
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) { m.opts.shutdownTimeout = d }
}
func WithMetricsWindow(n int) Option { return func(m *Manager) { m.opts.metricsWindow = n } }
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithDeadLetterProducer publishes a notice to the given Kafka topic each
// time a task is dead-lettered.
func WithDeadLetterProducer(p kafka.Producer, topic string) Option {
	return func(m *Manager) { m.dlq = p; m.opts.dlqTopic = topic }
}

type waitResult struct {
	result json.RawMessage
	err    error
}

// Manager supervises the worker pool and owns all queue state. Construct with
// New, then call Run exactly once; every other method is safe to call from
// any goroutine while Run is live.
type Manager struct {
	store    store.Store
	cache    cache.Cache
	launcher Launcher
	dlq      kafka.Producer
	logger   *slog.Logger
	opts     options

	cmds   chan func()
	events chan Event
	done   chan struct{}
	runCtx context.Context

	// Control-loop-owned state. Never touched outside the loop.
	queue       *queue.Tiered
	scheduled   []*domain.Task
	dead        []*domain.DeadTask
	workers     map[string]*workerHandle
	waiters     map[string][]chan waitResult
	taskCounter uint64
	nextGen     int
	closed      bool

	stats *metrics.Collector
}

// New validates the configuration and assembles a Manager. Invalid settings
// are a ConfigurationError; nothing is spawned until Run.
func New(st store.Store, c cache.Cache, launcher Launcher, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:    st,
		cache:    c,
		launcher: launcher,
		logger:   slog.Default(),
		opts:     defaultOptions(),
		cmds:     make(chan func()),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		queue:    queue.NewTiered(),
		workers:  make(map[string]*workerHandle),
		waiters:  make(map[string][]chan waitResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stats = metrics.NewCollector(m.opts.metricsWindow)

	o := m.opts
	switch {
	case st == nil:
		return nil, &domain.ConfigurationError{Field: "store", Reason: "required"}
	case c == nil:
		return nil, &domain.ConfigurationError{Field: "cache", Reason: "required"}
	case launcher == nil:
		return nil, &domain.ConfigurationError{Field: "launcher", Reason: "required"}
	case o.poolSize < 1:
		return nil, &domain.ConfigurationError{Field: "pool_size", Reason: "must be at least 1"}
	case o.minWorkers < 1 || o.minWorkers > o.poolSize || o.poolSize > o.maxWorkers:
		return nil, &domain.ConfigurationError{Field: "worker_bounds", Reason: fmt.Sprintf("need 1 <= min <= pool_size <= max, got min=%d pool=%d max=%d", o.minWorkers, o.poolSize, o.maxWorkers)}
	case o.maxRestarts < 0:
		return nil, &domain.ConfigurationError{Field: "max_restarts", Reason: "must not be negative"}
	case o.maxRetries < 0:
		return nil, &domain.ConfigurationError{Field: "max_retries", Reason: "must not be negative"}
	case o.retryBase <= 0 || o.retryMax < o.retryBase:
		return nil, &domain.ConfigurationError{Field: "retry_backoff", Reason: "need 0 < base <= max"}
	case o.restartBase <= 0 || o.restartMax < o.restartBase:
		return nil, &domain.ConfigurationError{Field: "restart_backoff", Reason: "need 0 < base <= max"}
	case o.sweepInterval <= 0:
		return nil, &domain.ConfigurationError{Field: "sweep_interval", Reason: "must be positive"}
	case o.healthInterval <= 0 || o.healthTimeout <= 0 || o.healthThreshold < 1:
		return nil, &domain.ConfigurationError{Field: "health_check", Reason: "interval and timeout must be positive, threshold at least 1"}
	case o.scaleInterval <= 0 || o.scaleDownLoad >= o.scaleUpLoad:
		return nil, &domain.ConfigurationError{Field: "autoscale", Reason: "interval must be positive and down watermark below up watermark"}
	case o.shutdownTimeout <= 0:
		return nil, &domain.ConfigurationError{Field: "shutdown_timeout", Reason: "must be positive"}
	}
	return m, nil
}

// Run loads persisted state, spawns the pool, and drives the control loop
// until ctx is cancelled. On cancellation it drains in-flight tasks, stops
// all workers, and flushes the store before returning.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	m.runCtx = ctx

	state, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	m.restore(state)

	for i := 0; i < m.opts.poolSize; i++ {
		m.spawnWorker("", 0)
	}

	sweep := time.NewTicker(m.opts.sweepInterval)
	defer sweep.Stop()
	health := time.NewTicker(m.opts.healthInterval)
	defer health.Stop()
	scale := time.NewTicker(m.opts.scaleInterval)
	defer scale.Stop()

	m.processReady()

	for {
		select {
		case <-ctx.Done():
			return m.shutdown()
		case fn := <-m.cmds:
			fn()
		case ev := <-m.events:
			m.handleEvent(ev)
		case <-sweep.C:
			m.sweepScheduled(time.Now())
		case <-health.C:
			m.healthTick(time.Now())
		case <-scale.C:
			m.scaleTick()
		}
	}
}

// restore rebuilds in-memory queue state from a persisted snapshot. Tasks
// that were in flight at crash time come back as pending and will run again.
func (m *Manager) restore(state *store.QueueState) {
	for _, t := range state.Pending {
		if err := m.queue.Enqueue(t); err != nil {
			m.logger.Error("dropping unloadable persisted task",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.scheduled = append(m.scheduled, state.Scheduled...)
	m.dead = append(m.dead, state.DeadLetter...)
	m.taskCounter = state.TaskCounter

	if m.queue.Len() > 0 || len(m.scheduled) > 0 || len(m.dead) > 0 {
		m.logger.Info("recovered persisted state",
			slog.Int("pending", m.queue.Len()),
			slog.Int("scheduled", len(m.scheduled)),
			slog.Int("dead_letter", len(m.dead)),
			slog.Uint64("task_counter", m.taskCounter),
		)
	}
}

// SubmitRequest describes one task submission. Payload is opaque to the
// manager. An empty Priority means normal; a ScheduledFor in the future
// delays dispatch until that time.
type SubmitRequest struct {
	Payload      json.RawMessage
	Priority     domain.Priority
	ScheduledFor *time.Time
}

// Submit enqueues a task and returns its ID without waiting for execution.
// Durability follows within the persistence debounce window.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var id string
	err := m.do(ctx, func() error {
		task, err := m.admit(req)
		if err != nil {
			return err
		}
		id = task.ID
		return nil
	})
	return id, err
}

// SubmitWait enqueues a task and blocks until it reaches a terminal state,
// returning the task ID and its result. A dead-lettered task yields a
// TaskDeadError; manager shutdown before dispatch yields a ShuttingDownError.
func (m *Manager) SubmitWait(ctx context.Context, req SubmitRequest) (string, json.RawMessage, error) {
	waitc := make(chan waitResult, 1)
	var id string
	err := m.do(ctx, func() error {
		// Register the waiter before admit: a cache hit completes the task
		// inside admit's dispatch pass.
		task, err := m.admitWith(req, func(taskID string) {
			m.waiters[taskID] = append(m.waiters[taskID], waitc)
		})
		if err != nil {
			return err
		}
		id = task.ID
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	select {
	case res := <-waitc:
		return id, res.result, res.err
	case <-ctx.Done():
		_ = m.do(context.Background(), func() error {
			m.dropWaiter(id, waitc)
			return nil
		})
		return id, nil, ctx.Err()
	}
}

// admit validates and enqueues one submission. Control loop only.
func (m *Manager) admit(req SubmitRequest) (*domain.Task, error) {
	return m.admitWith(req, nil)
}

func (m *Manager) admitWith(req SubmitRequest, registered func(taskID string)) (*domain.Task, error) {
	if m.closed {
		return nil, &domain.ShuttingDownError{}
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return nil, &domain.ConfigurationError{Field: "priority", Reason: "unknown tier " + string(priority)}
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		return nil, &domain.ConfigurationError{Field: "payload", Reason: "required"}
	}

	now := time.Now().UTC()
	m.taskCounter++
	task := &domain.Task{
		ID:        fmt.Sprintf("task-%06d", m.taskCounter),
		Payload:   req.Payload,
		Priority:  priority,
		CreatedAt: now,
	}
	if registered != nil {
		registered(task.ID)
	}

	m.stats.IncSubmitted()
	telemetry.ManagerTasksSubmitted.WithLabelValues(string(priority)).Inc()

	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		t := req.ScheduledFor.UTC()
		task.ScheduledFor = &t
		m.scheduled = append(m.scheduled, task)
		m.logger.Info("task scheduled",
			slog.String("task_id", task.ID),
			slog.String("priority", string(priority)),
			slog.Time("scheduled_for", t),
		)
	} else {
		_ = m.queue.Enqueue(task)
		m.logger.Info("task submitted",
			slog.String("task_id", task.ID),
			slog.String("priority", string(priority)),
		)
	}

	m.persist()
	m.processReady()
	return task, nil
}

// do runs fn on the control loop and waits for it to finish.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case m.cmds <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return &domain.ShuttingDownError{}
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return &domain.ShuttingDownError{}
	}
}

// post hands fn to the control loop without waiting. Dropped once the
// manager has stopped.
func (m *Manager) post(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.done:
	}
}

func (m *Manager) notifyWaiters(taskID string, result json.RawMessage, err error) {
	chans := m.waiters[taskID]
	if len(chans) == 0 {
		return
	}
	delete(m.waiters, taskID)
	for _, ch := range chans {
		ch <- waitResult{result: result, err: err}
	}
}

func (m *Manager) dropWaiter(taskID string, target chan waitResult) {
	chans := m.waiters[taskID]
	for i, ch := range chans {
		if ch == target {
			m.waiters[taskID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(m.waiters[taskID]) == 0 {
		delete(m.waiters, taskID)
	}
}

// persist hands the current queue state to the store. Tasks are cloned so a
// deferred write never races with control-loop mutation.
func (m *Manager) persist() {
	if err := m.store.Save(context.Background(), m.snapshotState()); err != nil {
		m.logger.Error("failed to persist state", slog.String("error", err.Error()))
	}
}

func (m *Manager) snapshotState() *store.QueueState {
	state := store.NewQueueState()
	// In-flight tasks first: on recovery they re-run ahead of queued work.
	for _, id := range m.sortedWorkerIDs() {
		if t := m.workers[id].currentTask; t != nil {
			state.Pending = append(state.Pending, cloneTask(t))
		}
	}
	for _, t := range m.queue.Snapshot() {
		state.Pending = append(state.Pending, cloneTask(t))
	}
	for _, t := range m.scheduled {
		state.Scheduled = append(state.Scheduled, cloneTask(t))
	}
	for _, d := range m.dead {
		dd := *d
		state.DeadLetter = append(state.DeadLetter, &dd)
	}
	state.TaskCounter = m.taskCounter
	return state
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.ScheduledFor != nil {
		at := *t.ScheduledFor
		c.ScheduledFor = &at
	}
	return &c
}

// shutdown drains the pool: in-flight tasks may finish within the shutdown
// timeout, queued work stays persisted for the next run, and waiters whose
// task never reached a worker are rejected.
func (m *Manager) shutdown() error {
	m.closed = true
	m.logger.Info("shutdown initiated",
		slog.Int("workers", len(m.workers)),
		slog.Int("queued", m.queue.Len()),
	)

	inFlight := make(map[string]bool, len(m.workers))
	for _, h := range m.workers {
		if h.currentTask != nil {
			inFlight[h.currentTask.ID] = true
		}
	}
	for taskID := range m.waiters {
		if !inFlight[taskID] {
			m.notifyWaiters(taskID, nil, &domain.ShuttingDownError{})
		}
	}

	for _, h := range m.workers {
		if err := h.proc.Send(protocol.Envelope{Type: protocol.TypeShutdown}); err != nil {
			_ = h.proc.Kill()
		}
	}

	deadline := time.After(m.opts.shutdownTimeout)
drain:
	for len(m.workers) > 0 {
		select {
		case ev := <-m.events:
			m.handleEvent(ev)
		case fn := <-m.cmds:
			fn()
		case <-deadline:
			break drain
		}
	}

	if len(m.workers) > 0 {
		m.logger.Warn("shutdown deadline reached, killing remaining workers",
			slog.Int("workers", len(m.workers)),
		)
		for _, h := range m.workers {
			_ = h.proc.Kill()
		}
		grace := time.After(2 * time.Second)
		for len(m.workers) > 0 {
			select {
			case ev := <-m.events:
				m.handleEvent(ev)
			case <-grace:
				for id := range m.workers {
					delete(m.workers, id)
				}
			}
		}
	}
	telemetry.PoolWorkersActive.Set(0)

	// Anything still waited on was requeued from a killed worker.
	for taskID := range m.waiters {
		m.notifyWaiters(taskID, nil, &domain.ShuttingDownError{})
	}

	m.persist()
	if f, ok := m.store.(store.Flusher); ok {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.Flush(flushCtx); err != nil {
			m.logger.Error("final state flush failed", slog.String("error", err.Error()))
			return fmt.Errorf("flush state: %w", err)
		}
	}

	m.logger.Info("shutdown complete")
	return nil
}
