package controller

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSender_LastCloseStopsLoop(t *testing.T) {
	c, sender := New(nil, nil, nil, Config{}, nil, nil)
	clone := sender.Clone()

	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(context.Background()) }()

	sender.Close()
	select {
	case <-stopped:
		t.Fatal("loop stopped while a cloned handle was still open")
	case <-time.After(50 * time.Millisecond):
	}

	clone.Close()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after the last handle was closed")
	}
}

func TestSender_CloseIsIdempotent(t *testing.T) {
	_, sender := New(nil, nil, nil, Config{}, nil, nil)
	clone := sender.Clone()

	// 同じハンドルの二重解放で参照カウントが減りすぎないこと
	sender.Close()
	sender.Close()

	if err := clone.TrySend(Guilds{}); err != nil {
		t.Errorf("TrySend on open clone = %v, want nil", err)
	}
	if err := sender.TrySend(Guilds{}); !errors.Is(err, ErrClosed) {
		t.Errorf("TrySend on closed handle = %v, want %v", err, ErrClosed)
	}
	if err := sender.Send(context.Background(), Guilds{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed handle = %v, want %v", err, ErrClosed)
	}
	clone.Close()
}

func TestSender_CloneOfClosedHandleIsClosed(t *testing.T) {
	_, sender := New(nil, nil, nil, Config{}, nil, nil)
	sender.Close()

	clone := sender.Clone()
	if err := clone.TrySend(Guilds{}); !errors.Is(err, ErrClosed) {
		t.Errorf("TrySend on clone of closed handle = %v, want %v", err, ErrClosed)
	}
	clone.Close()
}

func TestSender_Backpressure(t *testing.T) {
	_, sender := New(nil, nil, nil, Config{QueueSize: 2}, nil, nil)
	defer sender.Close()

	for i := 0; i < 2; i++ {
		if err := sender.TrySend(Guilds{}); err != nil {
			t.Fatalf("TrySend #%d: %v", i, err)
		}
	}
	if got := sender.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if err := sender.TrySend(Guilds{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("TrySend on full queue = %v, want %v", err, ErrQueueFull)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sender.Send(ctx, Guilds{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send on full queue = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestSender_FailFast(t *testing.T) {
	_, sender := New(nil, nil, nil, Config{QueueSize: 1}, nil, nil)
	defer sender.Close()

	fast := sender.FailFast()
	if err := fast.Send(context.Background(), Guilds{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// 満杯のキューでもctxを待たずに返る
	if err := fast.Send(context.Background(), Guilds{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Send on full queue = %v, want %v", err, ErrQueueFull)
	}
	clone := fast.Clone()
	if err := clone.Send(context.Background(), Guilds{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("clone of fail-fast handle = %v, want %v", err, ErrQueueFull)
	}
	clone.Close()

	// FailFastのハンドルも参照を持つ
	fast.Close()
	if err := fast.Send(context.Background(), Guilds{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed fail-fast handle = %v, want %v", err, ErrClosed)
	}
}

func TestNew_DefaultQueueSize(t *testing.T) {
	_, sender := New(nil, nil, nil, Config{}, nil, nil)
	defer sender.Close()
	if got := sender.Cap(); got != DefaultQueueSize {
		t.Errorf("Cap() = %d, want %d", got, DefaultQueueSize)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	c, sender := New(nil, nil, nil, Config{}, nil, nil)
	defer sender.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
