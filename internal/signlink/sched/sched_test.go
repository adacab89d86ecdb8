package sched

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTask_StartStopStates(t *testing.T) {
	s := New(nil)
	runs := 0
	task := s.NewTask("t", func() { runs++ })

	task.Stop() // never started
	if task.Running() {
		t.Fatalf("new task must be stopped")
	}
	task.Start(2, 3)
	if !task.Running() {
		t.Fatalf("expected running after start")
	}
	for i := 0; i < 8; i++ {
		s.Advance()
	}
	// due at ticks 2, 5, 8
	if runs != 3 {
		t.Fatalf("expected 3 runs, got %d", runs)
	}
	task.Stop()
	task.Stop()
	s.Advance()
	s.Advance()
	s.Advance()
	if runs != 3 {
		t.Fatalf("stopped task ran")
	}
}

func TestTask_RegistrationOrderWithinTick(t *testing.T) {
	s := New(nil)
	var got []string
	s.NewTask("order", func() { got = append(got, "order") }).Start(1, 1)
	s.NewTask("text", func() { got = append(got, "text") }).Start(1, 1)
	s.Advance()
	s.Advance()
	if strings.Join(got, ",") != "order,text,order,text" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestAfter_ReplacesPendingKey(t *testing.T) {
	s := New(nil)
	var fired []string
	s.After("k", 1, func() { fired = append(fired, "first") })
	s.After("k", 1, func() { fired = append(fired, "second") })
	if s.PendingCount() != 1 {
		t.Fatalf("expected one pending callback, got %d", s.PendingCount())
	}
	s.Advance()
	s.Advance()
	if len(fired) != 1 || fired[0] != "second" {
		t.Fatalf("expected only the replacement to fire: %v", fired)
	}
}

func TestAfter_RunsAfterPeriodicTasks(t *testing.T) {
	s := New(nil)
	var got []string
	s.NewTask("pass", func() { got = append(got, "pass") }).Start(1, 1)
	s.After("restore", 1, func() { got = append(got, "restore") })
	s.Advance()
	if strings.Join(got, ",") != "pass,restore" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestAfter_ZeroDelayWaitsForNextTick(t *testing.T) {
	s := New(nil)
	fired := false
	s.After(1, 0, func() { fired = true })
	if fired {
		t.Fatalf("one-shot must never run synchronously")
	}
	s.Advance()
	if !fired {
		t.Fatalf("expected one-shot on next tick")
	}
}

func TestAfter_RearmFromCallback(t *testing.T) {
	s := New(nil)
	count := 0
	var arm func()
	arm = func() {
		count++
		if count < 3 {
			s.After("loop", 1, arm)
		}
	}
	s.After("loop", 1, arm)
	for i := 0; i < 5; i++ {
		s.Advance()
	}
	if count != 3 {
		t.Fatalf("expected 3 runs, got %d", count)
	}
}

func TestShutdown_CancelsEverything(t *testing.T) {
	s := New(nil)
	ran := false
	task := s.NewTask("t", func() { ran = true }).Start(1, 1)
	s.After("x", 1, func() { ran = true })
	s.Shutdown()
	s.Advance()
	if ran || task.Running() || s.PendingCount() != 0 {
		t.Fatalf("nothing may run after shutdown")
	}
	task.Start(1, 1)
	s.After("y", 1, func() { ran = true })
	s.Advance()
	if ran {
		t.Fatalf("closed scheduler must ignore new work")
	}
}

func TestAdvance_RecoversTaskPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(zap.New(core))
	runs := 0
	s.NewTask("boom", func() {
		runs++
		panic("bad")
	}).Start(1, 1)
	s.Advance()
	s.Advance()
	if runs != 2 {
		t.Fatalf("next cycle must still run after a panic, runs=%d", runs)
	}
	if logs.Len() != 2 {
		t.Fatalf("expected 2 logged panics, got %d", logs.Len())
	}
}

func TestForEach_IsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4}
	var seen []int
	failures := ForEach(items, func(i int) string { return fmt.Sprintf("item-%d", i) }, func(i int) error {
		seen = append(seen, i)
		switch i {
		case 2:
			return errors.New("broken")
		case 3:
			panic("worse")
		}
		return nil
	})
	if len(seen) != 4 {
		t.Fatalf("all items must be processed, saw %v", seen)
	}
	if len(failures) != 2 || failures[0].Item != "item-2" || failures[1].Item != "item-3" {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	core, logs := observer.New(zap.ErrorLevel)
	LogFailures(zap.New(core), "text", failures)
	if logs.FilterField(zap.String("item", "item-3")).Len() != 1 {
		t.Fatalf("failure context missing from log")
	}
}
