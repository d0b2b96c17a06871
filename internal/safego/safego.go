// Package safego runs best-effort background work (audit recording, shipping)
// without letting a panic take the process down.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

var recovered atomic.Int64

// Go launches fn in a new goroutine under the given task name. A panic in fn is
// recovered and logged with the task name and stack.
func Go(task string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background task",
					"task", task, "panic", r, "stack", string(debug.Stack()))
				recovered.Add(1)
			}
		}()
		fn()
	}()
}

// Recovered reports how many background panics have been swallowed since start.
func Recovered() int64 {
	return recovered.Load()
}
