package redisclient

import (
	"context"
	"errors"
	"testing"
)

func TestLocalLockerRejectsNestedHolder(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	err := l.WithLock(ctx, "offer:1", func(ctx context.Context) error {
		inner := l.WithLock(ctx, "offer:1", func(context.Context) error { return nil })
		if !errors.Is(inner, ErrLockNotAcquired) {
			t.Errorf("nested lock err = %v, want ErrLockNotAcquired", inner)
		}
		// other keys are independent
		return l.WithLock(ctx, "offer:2", func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
}

func TestLocalLockerReleasesOnError(t *testing.T) {
	l := NewLocalLocker()
	boom := errors.New("boom")

	if err := l.WithLock(context.Background(), "k", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := l.WithLock(context.Background(), "k", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
}
