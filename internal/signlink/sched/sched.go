// Package sched runs periodic and one-shot work on the host's tick.
//
// The host calls Advance once per tick from the goroutine that owns the
// engine state. Nothing here starts goroutines or blocks.
package sched

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type Scheduler struct {
	log *zap.Logger

	tick    uint64
	tasks   []*Task
	pending map[any]*oneShot
	seq     uint64
	closed  bool
}

type oneShot struct {
	due uint64
	seq uint64
	fn  func()
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{log: logger, pending: map[any]*oneShot{}}
}

// Now is the number of ticks advanced so far.
func (s *Scheduler) Now() uint64 { return s.tick }

// Task is a periodic job. A new task is stopped until Start.
type Task struct {
	s       *Scheduler
	name    string
	fn      func()
	period  uint64
	next    uint64
	running bool
}

// NewTask registers a task. Tasks due on the same tick run in the order
// they were registered.
func (s *Scheduler) NewTask(name string, fn func()) *Task {
	t := &Task{s: s, name: name, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Start runs the task first after delay ticks and then every period ticks.
func (t *Task) Start(delay, period uint64) *Task {
	if t.s.closed {
		return t
	}
	if period == 0 {
		period = 1
	}
	t.period = period
	t.next = t.s.tick + delay
	t.running = true
	return t
}

// Stop is a no-op for tasks that are stopped or were never started.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.running = false
}

func (t *Task) Running() bool { return t != nil && t.running }
func (t *Task) Name() string  { return t.name }

// After runs fn once, delay ticks from now (at least one). Scheduling under
// a key that is already pending replaces the earlier callback.
func (s *Scheduler) After(key any, delay uint64, fn func()) {
	if s.closed {
		return
	}
	if delay == 0 {
		delay = 1
	}
	s.seq++
	s.pending[key] = &oneShot{due: s.tick + delay, seq: s.seq, fn: fn}
}

func (s *Scheduler) Cancel(key any) bool {
	if _, ok := s.pending[key]; !ok {
		return false
	}
	delete(s.pending, key)
	return true
}

func (s *Scheduler) Pending(key any) bool {
	_, ok := s.pending[key]
	return ok
}

func (s *Scheduler) PendingCount() int { return len(s.pending) }

// Advance moves time forward one tick: due periodic tasks run first, then
// due one-shots in the order they were scheduled.
func (s *Scheduler) Advance() {
	if s.closed {
		return
	}
	s.tick++
	for _, t := range s.tasks {
		if !t.running || s.tick < t.next {
			continue
		}
		t.next = s.tick + t.period
		s.run(t.name, t.fn)
	}

	var due []any
	for k, o := range s.pending {
		if o.due <= s.tick {
			due = append(due, k)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return s.pending[due[i]].seq < s.pending[due[j]].seq })
	shots := make([]*oneShot, len(due))
	for i, k := range due {
		shots[i] = s.pending[k]
		delete(s.pending, k)
	}
	for _, o := range shots {
		if s.closed {
			return
		}
		s.run("deferred", o.fn)
	}
}

// Shutdown stops every task and drops every pending one-shot. The scheduler
// cannot be restarted.
func (s *Scheduler) Shutdown() {
	s.closed = true
	for _, t := range s.tasks {
		t.running = false
	}
	s.pending = map[any]*oneShot{}
}

func (s *Scheduler) run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked", zap.String("task", name), zap.Uint64("tick", s.tick), zap.Any("panic", r))
		}
	}()
	fn()
}

// Failure records one item that could not be processed during a pass.
type Failure struct {
	Item string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Item, f.Err) }

// ForEach calls fn for every item. Errors and panics are collected per item
// and never stop the pass.
func ForEach[T any](items []T, label func(T) string, fn func(T) error) []Failure {
	var failures []Failure
	for _, it := range items {
		if err := call(it, fn); err != nil {
			failures = append(failures, Failure{Item: label(it), Err: err})
		}
	}
	return failures
}

func call[T any](it T, fn func(T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(it)
}

// LogFailures reports a pass's failures after the pass has finished.
func LogFailures(logger *zap.Logger, pass string, failures []Failure) {
	for _, f := range failures {
		logger.Error("pass item failed", zap.String("pass", pass), zap.String("item", f.Item), zap.Error(f.Err))
	}
}
