package oidcstore

import (
	"context"
	"fmt"
	"sync"
)

// taskGroup runs detached authentication work. Failures are logged and
// never surfaced to the caller that started the task.
type taskGroup struct {
	wg     sync.WaitGroup
	logger Logger
}

func newTaskGroup(logger Logger) *taskGroup {
	return &taskGroup{logger: logger}
}

// Go runs fn on a context that keeps the values of ctx but not its
// cancellation, so the task outlives the request that started it.
func (g *taskGroup) Go(ctx context.Context, name string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("background task panic", "task", name, "panic", fmt.Sprint(r))
			}
		}()

		if err := fn(detached); err != nil {
			g.logger.Debug("background task failed", "task", name, "error", err)
		}
	}()
}

func (g *taskGroup) Wait() {
	g.wg.Wait()
}
