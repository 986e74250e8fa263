package optimistic

import (
	"context"
	"errors"
	"testing"
)

func TestExecuteReconcilesOnSuccess(t *testing.T) {
	local := 0
	confirmed := 0
	_, err := Execute(context.Background(), NewCoordinator(nil), Action[int]{
		Name:  "increment",
		Apply: func() { local = 1 },
		Commit: func(context.Context) (int, error) {
			return 2, nil
		},
		Rollback:  func() { local = 0 },
		Reconcile: func(v int) { confirmed = v },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local != 1 {
		t.Fatalf("apply should have run, local=%d", local)
	}
	if confirmed != 2 {
		t.Fatalf("reconcile should carry the server result, got %d", confirmed)
	}
}

func TestExecuteRollsBackOnError(t *testing.T) {
	local := 0
	rollbacks := 0
	commitErr := errors.New("server rejected")
	_, err := Execute(context.Background(), NewCoordinator(nil), Action[int]{
		Name:  "increment",
		Apply: func() { local = 1 },
		Commit: func(context.Context) (int, error) {
			return 0, commitErr
		},
		Rollback: func() {
			rollbacks++
			local = 0
		},
	})
	if !errors.Is(err, commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if rollbacks != 1 {
		t.Fatalf("expected exactly 1 rollback, got %d", rollbacks)
	}
	if local != 0 {
		t.Fatalf("local state should be restored, got %d", local)
	}
}

func TestExecuteRollsBackExactlyOnceOnPanic(t *testing.T) {
	rollbacks := 0
	_, err := Execute(context.Background(), NewCoordinator(nil), Action[string]{
		Name:  "panicky",
		Apply: func() {},
		Commit: func(context.Context) (string, error) {
			panic("boom")
		},
		Rollback: func() { rollbacks++ },
	})
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}
	if rollbacks != 1 {
		t.Fatalf("expected exactly 1 rollback, got %d", rollbacks)
	}
}

func TestExecuteRequiresCommit(t *testing.T) {
	if _, err := Execute(context.Background(), NewCoordinator(nil), Action[int]{Name: "empty"}); err == nil {
		t.Fatal("expected error for missing commit")
	}
}

func TestExecuteWithoutRollbackOrReconcile(t *testing.T) {
	result, err := Execute(context.Background(), nil, Action[int]{
		Name: "bare",
		Commit: func(context.Context) (int, error) {
			return 7, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 {
		t.Fatalf("expected 7, got %d", result)
	}
}
