package failover

import "time"

// task is a cancellable scheduled callback. Every "after N seconds do X" in
// the controller is owned by exactly one task, and entering a new state
// cancels the tasks belonging to the state being left.
type task struct {
	timer *time.Timer
}

// schedule runs fn after d on a timer goroutine.
func schedule(d time.Duration, fn func()) *task {
	return &task{timer: time.AfterFunc(d, fn)}
}

// cancel stops the task if it has not fired yet. Safe on nil.
func (t *task) cancel() {
	if t != nil && t.timer != nil {
		t.timer.Stop()
	}
}

// cancelTask cancels *t and clears the slot.
func cancelTask(t **task) {
	(*t).cancel()
	*t = nil
}
