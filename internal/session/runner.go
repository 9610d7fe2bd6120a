package session

import (
	"fmt"
	"log/slog"
	"sync"
)

type job struct {
	name string
	run  func() error
}

// lane runs jobs one at a time in submission order. The worker goroutine
// exits when the queue is empty and is restarted by the next submit.
type lane struct {
	name   string
	runner *effectRunner

	mu      sync.Mutex
	queue   []job
	running bool
}

func (l *lane) submit(j job) {
	l.runner.add()
	l.mu.Lock()
	l.queue = append(l.queue, j)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	go l.work()
}

func (l *lane) work() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(j)
		l.runner.done()
	}
}

func (l *lane) exec(j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("effect panicked", "lane", l.name, "effect", j.name, "panic", fmt.Sprint(r))
		}
	}()
	if err := j.run(); err != nil {
		slog.Error("effect failed", "lane", l.name, "effect", j.name, "error", err)
	}
}

// effectRunner owns the two effect lanes of an orchestrator. Provider calls
// and side effects (event log, lesson status, notifications) are ordered
// within their lane but do not wait for each other. Jobs may be submitted
// while drain is waiting.
type effectRunner struct {
	mu       sync.Mutex
	idle     *sync.Cond
	pending  int
	provider *lane
	side     *lane
}

func newEffectRunner() *effectRunner {
	r := &effectRunner{}
	r.idle = sync.NewCond(&r.mu)
	r.provider = &lane{name: "provider", runner: r}
	r.side = &lane{name: "side", runner: r}
	return r
}

func (r *effectRunner) add() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending++
}

func (r *effectRunner) done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending--
	if r.pending == 0 {
		r.idle.Broadcast()
	}
}

// drain blocks until both lanes are idle, including jobs submitted by jobs.
func (r *effectRunner) drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending > 0 {
		r.idle.Wait()
	}
}
