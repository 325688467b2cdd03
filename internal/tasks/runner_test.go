package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunner_ExecutesTasks(t *testing.T) {
	r := NewRunner(2, 16, time.Second, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if !r.Submit("test", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}) {
			t.Fatal("submit rejected with free queue")
		}
	}

	r.Close()

	if got := ran.Load(); got != 5 {
		t.Errorf("expected 5 tasks run, got %d", got)
	}
}

func TestRunner_DropsWhenQueueFull(t *testing.T) {
	r := NewRunner(1, 1, time.Second, zap.NewNop())

	block := make(chan struct{})
	r.Submit("blocker", func(ctx context.Context) error {
		<-block
		return nil
	})

	// Give the single worker time to pick up the blocker, then fill the
	// queue slot.
	time.Sleep(50 * time.Millisecond)
	r.Submit("fill", func(ctx context.Context) error { return nil })

	if r.Submit("overflow", func(ctx context.Context) error { return nil }) {
		t.Error("expected overflow submit to report dropped")
	}

	close(block)
	r.Close()
}

func TestRunner_SurvivesErrorAndPanic(t *testing.T) {
	r := NewRunner(1, 16, time.Second, zap.NewNop())

	r.Submit("fails", func(ctx context.Context) error {
		return errors.New("boom")
	})
	r.Submit("panics", func(ctx context.Context) error {
		panic("boom")
	})

	var ran atomic.Bool
	r.Submit("after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	r.Close()

	if !ran.Load() {
		t.Error("worker should keep running after error and panic")
	}
}

func TestRunner_TaskContextHasDeadline(t *testing.T) {
	r := NewRunner(1, 4, 100*time.Millisecond, zap.NewNop())

	var hasDeadline atomic.Bool
	r.Submit("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hasDeadline.Store(ok)
		return nil
	})

	r.Close()

	if !hasDeadline.Load() {
		t.Error("task context should carry a deadline")
	}
}
