package manager

import (
	"context"
	"sync"

	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
)

// fakeBehavior reacts to a task envelope delivered to a fake worker. Runs on
// the control loop goroutine; replies go through the buffered events channel.
type fakeBehavior func(p *fakeProc, env protocol.Envelope)

func autoComplete(result []byte) fakeBehavior {
	return func(p *fakeProc, env protocol.Envelope) {
		p.complete(env.TaskID, result)
	}
}

func autoFail(msg string) fakeBehavior {
	return func(p *fakeProc, env protocol.Envelope) {
		p.fail(env.TaskID, msg)
	}
}

// fakeLauncher scripts worker processes without spawning anything. A nil
// behavior leaves task replies to the test (manual mode).
type fakeLauncher struct {
	mu           sync.Mutex
	procs        []*fakeProc
	launches     int
	deliveries   int
	behavior     fakeBehavior
	exitOnLaunch bool
	ignoreHealth bool
}

func newFakeLauncher(behavior fakeBehavior) *fakeLauncher {
	return &fakeLauncher{behavior: behavior}
}

var _ Launcher = (*fakeLauncher)(nil)

func (l *fakeLauncher) Launch(_ context.Context, id string, gen int, events chan<- Event) (Proc, error) {
	l.mu.Lock()
	l.launches++
	p := &fakeProc{id: id, gen: gen, pid: 1000 + l.launches, events: events, l: l}
	l.procs = append(l.procs, p)
	exitNow := l.exitOnLaunch
	l.mu.Unlock()

	if exitNow {
		p.exit(1)
	}
	return p, nil
}

func (l *fakeLauncher) setBehavior(b fakeBehavior) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.behavior = b
}

func (l *fakeLauncher) getBehavior() fakeBehavior {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.behavior
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// deliveryCount is the number of task envelopes delivered across all procs.
func (l *fakeLauncher) deliveryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deliveries
}

func (l *fakeLauncher) proc(i int) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.procs) {
		return nil
	}
	return l.procs[i]
}

// fakeProc mimics a worker process: it honors the envelope ordering a real
// worker exhibits, in particular that a shutdown envelope sent behind an
// unfinished task only takes effect after the task's reply.
type fakeProc struct {
	id     string
	gen    int
	pid    int
	events chan<- Event
	l      *fakeLauncher

	mu              sync.Mutex
	tasks           []protocol.Envelope
	outstanding     int
	pendingShutdown bool
	exited          bool
	killed          bool
}

var _ Proc = (*fakeProc)(nil)

func (p *fakeProc) Send(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeTask:
		p.mu.Lock()
		p.tasks = append(p.tasks, env)
		p.outstanding++
		p.mu.Unlock()
		p.l.mu.Lock()
		p.l.deliveries++
		p.l.mu.Unlock()
		if fn := p.l.getBehavior(); fn != nil {
			fn(p, env)
		}
	case protocol.TypeHealthCheck:
		p.l.mu.Lock()
		deaf := p.l.ignoreHealth
		p.l.mu.Unlock()
		if !deaf {
			p.emit(Event{Kind: EventMessage, Env: protocol.Envelope{Type: protocol.TypeHealthCheckResponse}})
		}
	case protocol.TypeShutdown:
		p.mu.Lock()
		if p.outstanding > 0 {
			p.pendingShutdown = true
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		p.exit(0)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) emit(ev Event) {
	ev.WorkerID = p.id
	ev.Gen = p.gen
	p.events <- ev
}

func (p *fakeProc) exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.mu.Unlock()
	p.emit(Event{Kind: EventExit, ExitCode: code})
}

func (p *fakeProc) complete(taskID string, result []byte) {
	p.reply(protocol.Envelope{Type: protocol.TypeTaskComplete, TaskID: taskID, Data: result})
}

func (p *fakeProc) fail(taskID, msg string) {
	p.reply(protocol.Envelope{Type: protocol.TypeTaskError, TaskID: taskID, Error: msg})
}

func (p *fakeProc) reply(env protocol.Envelope) {
	p.mu.Lock()
	p.outstanding--
	shut := p.pendingShutdown && p.outstanding == 0
	p.mu.Unlock()

	p.emit(Event{Kind: EventMessage, Env: env})
	if shut {
		p.exit(0)
	}
}

func (p *fakeProc) taskIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(p.tasks))
	for i, env := range p.tasks {
		ids[i] = env.TaskID
	}
	return ids
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
