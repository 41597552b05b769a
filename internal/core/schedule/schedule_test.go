package schedule

import (
	"sync"
	"testing"
	"time"
)

// TestAddTaskRejectsBadExpression verifies an invalid cron expression is
// reported instead of silently ignored.
func TestAddTaskRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddTask("reconcile", "not a cron expr", func() {}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if got := len(s.ScheduledTasks()); got != 0 {
		t.Fatalf("expected no scheduled tasks, got %d", got)
	}
}

// TestAddTaskReplacesExisting verifies re-adding a task name swaps its
// schedule instead of duplicating it.
func TestAddTaskReplacesExisting(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddTask("extract_sweep", "0 */5 * * * *", func() {}); err != nil {
		t.Fatalf("AddTask returned error: %v", err)
	}
	if err := s.AddTask("extract_sweep", "0 */10 * * * *", func() {}); err != nil {
		t.Fatalf("AddTask returned error: %v", err)
	}

	tasks := s.ScheduledTasks()
	if len(tasks) != 1 || tasks[0] != "extract_sweep" {
		t.Fatalf("expected single extract_sweep task, got %v", tasks)
	}
}

// TestRemoveTask verifies a removed task no longer shows as scheduled.
func TestRemoveTask(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddTask("alias_backfill", "0 0 3 * * *", func() {}); err != nil {
		t.Fatalf("AddTask returned error: %v", err)
	}
	s.RemoveTask("alias_backfill")

	if got := len(s.ScheduledTasks()); got != 0 {
		t.Fatalf("expected no scheduled tasks after removal, got %d", got)
	}
}

// TestDebouncerCoalescesBurst verifies rapid triggers for one key collapse
// into a single callback.
func TestDebouncerCoalescesBurst(t *testing.T) {
	fired := make(chan string, 8)
	d := NewDebouncer(30*time.Millisecond, func(key string) { fired <- key })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger("chat-1")
	}

	select {
	case key := <-fired:
		if key != "chat-1" {
			t.Fatalf("expected chat-1, got %s", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced callback")
	}

	select {
	case key := <-fired:
		t.Fatalf("expected a single callback, got another for %s", key)
	case <-time.After(150 * time.Millisecond):
	}
}

// TestDebouncerKeysAreIndependent verifies each key gets its own timer.
func TestDebouncerKeysAreIndependent(t *testing.T) {
	var mu sync.Mutex
	counts := make(map[string]int)
	done := make(chan struct{}, 8)

	d := NewDebouncer(20*time.Millisecond, func(key string) {
		mu.Lock()
		counts[key]++
		mu.Unlock()
		done <- struct{}{}
	})
	defer d.Stop()

	d.Trigger("chat-1")
	d.Trigger("chat-2")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for callbacks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if counts["chat-1"] != 1 || counts["chat-2"] != 1 {
		t.Fatalf("expected one callback per key, got %v", counts)
	}
}

// TestDebouncerCancel verifies a cancelled key never fires.
func TestDebouncerCancel(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(30*time.Millisecond, func(key string) { fired <- key })
	defer d.Stop()

	d.Trigger("chat-1")
	d.Cancel("chat-1")

	if got := d.Pending(); got != 0 {
		t.Fatalf("expected no pending timers, got %d", got)
	}

	select {
	case key := <-fired:
		t.Fatalf("expected no callback after cancel, got %s", key)
	case <-time.After(150 * time.Millisecond):
	}
}

// TestDebouncerStopIgnoresLaterTriggers verifies Stop is terminal.
func TestDebouncerStopIgnoresLaterTriggers(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(10*time.Millisecond, func(key string) { fired <- key })

	d.Stop()
	d.Trigger("chat-1")

	select {
	case key := <-fired:
		t.Fatalf("expected no callback after Stop, got %s", key)
	case <-time.After(100 * time.Millisecond):
	}
}
