package fsm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/looplab/fsm"
)

func TestPollerFSM_TickFlow(t *testing.T) {
	p := NewPollerFSM()
	ctx := context.Background()

	if p.Current() != PollStateIdle {
		t.Errorf("initial state should be idle, got %s", p.Current())
	}

	if err := p.Event(ctx, PollEventTick); err != nil {
		t.Errorf("tick error: %v", err)
	}
	if p.Current() != PollStateReading {
		t.Errorf("should be reading, got %s", p.Current())
	}

	if err := p.Event(ctx, PollEventSnapshotRead); err != nil {
		t.Errorf("snapshot_read error: %v", err)
	}
	if p.Current() != PollStatePublishing {
		t.Errorf("should be publishing, got %s", p.Current())
	}

	if err := p.Event(ctx, PollEventDone); err != nil {
		t.Errorf("done error: %v", err)
	}
	if p.Current() != PollStateIdle {
		t.Errorf("should be idle, got %s", p.Current())
	}
}

func TestPollerFSM_DoneWhileReading(t *testing.T) {
	p := NewPollerFSM()
	ctx := context.Background()

	_ = p.Event(ctx, PollEventTick)
	if err := p.Event(ctx, PollEventDone); err != nil {
		t.Errorf("done from reading should succeed: %v", err)
	}
	if p.Current() != PollStateIdle {
		t.Errorf("should be idle, got %s", p.Current())
	}
}

func TestPollerFSM_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*PollerFSM, context.Context)
		event string
	}{
		{
			name:  "tick while reading",
			setup: func(p *PollerFSM, ctx context.Context) { _ = p.Event(ctx, PollEventTick) },
			event: PollEventTick,
		},
		{
			name: "tick while publishing",
			setup: func(p *PollerFSM, ctx context.Context) {
				_ = p.Event(ctx, PollEventTick)
				_ = p.Event(ctx, PollEventSnapshotRead)
			},
			event: PollEventTick,
		},
		{
			name:  "snapshot_read from idle",
			setup: func(p *PollerFSM, ctx context.Context) {},
			event: PollEventSnapshotRead,
		},
		{
			name:  "done from idle",
			setup: func(p *PollerFSM, ctx context.Context) {},
			event: PollEventDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPollerFSM()
			ctx := context.Background()

			tt.setup(p, ctx)

			err := p.Event(ctx, tt.event)
			if err == nil {
				t.Errorf("expected error for invalid transition")
			}

			var invalidErr fsm.InvalidEventError
			if !errors.As(err, &invalidErr) {
				t.Errorf("expected InvalidEventError, got %T: %v", err, err)
			}
		})
	}
}

func TestPollerFSM_OnEnter(t *testing.T) {
	p := NewPollerFSM()
	ctx := context.Background()

	var idleCount int32
	p.OnEnter(PollStateIdle, func() {
		atomic.AddInt32(&idleCount, 1)
	})

	_ = p.Event(ctx, PollEventTick)
	_ = p.Event(ctx, PollEventDone)
	_ = p.Event(ctx, PollEventTick)
	_ = p.Event(ctx, PollEventSnapshotRead)
	_ = p.Event(ctx, PollEventDone)

	if got := atomic.LoadInt32(&idleCount); got != 2 {
		t.Errorf("idle enter callback count = %d, want 2", got)
	}
}

func TestPollerFSM_Reset(t *testing.T) {
	p := NewPollerFSM()
	_ = p.Event(context.Background(), PollEventTick)

	p.Reset()
	if p.Current() != PollStateIdle {
		t.Errorf("should be idle after reset, got %s", p.Current())
	}
}

func TestPollerFSM_SingleFlight(t *testing.T) {
	p := NewPollerFSM()
	ctx := context.Background()

	var started int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Event(ctx, PollEventTick); err == nil {
				atomic.AddInt32(&started, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&started); got != 1 {
		t.Errorf("ticks started = %d, want exactly 1", got)
	}
}
