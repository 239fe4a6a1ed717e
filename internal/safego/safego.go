// Package safego provides a panic-recovering goroutine launcher for background work
// such as audit shipping and periodic jobs.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged with the
// task name and stack instead of crashing the process.
func Go(task string, fn func()) {
	go run(task, fn)
}

// Group tracks goroutines started with Go so shutdown can wait for them. The zero
// value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go launches fn like the package-level Go and counts it in the group.
func (g *Group) Go(task string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(task, fn)
	}()
}

// Wait blocks until every goroutine started through the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

func run(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"task", task, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
