// Package optimistic runs a local state change ahead of its server
// confirmation and guarantees the local change is rolled back exactly once
// if the server side fails.
package optimistic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Action pairs an immediate local mutation with the authoritative server
// call that confirms it.
type Action[T any] struct {
	// Name labels the action in logs.
	Name string
	// Apply performs the immediate local mutation.
	Apply func()
	// Commit performs the authoritative operation. Its result is the source
	// of truth.
	Commit func(ctx context.Context) (T, error)
	// Rollback undoes Apply. Runs at most once, on any failure path
	// including a panic inside Commit.
	Rollback func()
	// Reconcile replaces the optimistic local state with the confirmed
	// server result.
	Reconcile func(T)
}

// Coordinator executes optimistic actions.
type Coordinator struct {
	logger *slog.Logger
}

func NewCoordinator(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{logger: log.With(slog.String("service", "optimistic"))}
}

// Execute applies the local mutation, runs the server commit, and either
// reconciles with the confirmed result or rolls the local mutation back.
// The rollback fires exactly once no matter how the commit fails.
func Execute[T any](ctx context.Context, c *Coordinator, action Action[T]) (T, error) {
	var zero T
	if action.Commit == nil {
		return zero, fmt.Errorf("optimistic action %q has no commit", action.Name)
	}

	var rollbackOnce sync.Once
	rollback := func() {
		if action.Rollback == nil {
			return
		}
		rollbackOnce.Do(action.Rollback)
	}

	if action.Apply != nil {
		action.Apply()
	}

	result, err := func() (result T, err error) {
		defer func() {
			if r := recover(); r != nil {
				rollback()
				err = fmt.Errorf("optimistic action %q panicked: %v", action.Name, r)
			}
		}()
		return action.Commit(ctx)
	}()
	if err != nil {
		rollback()
		if c != nil {
			c.logger.Warn("optimistic action rolled back",
				slog.String("action", action.Name), slog.Any("error", err))
		}
		return zero, err
	}

	if action.Reconcile != nil {
		action.Reconcile(result)
	}
	return result, nil
}
