package fsm

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// PollerFSM tracks the phase of a poll tick. A tick can only start from
// idle, so at most one tick is active at a time.
type PollerFSM struct {
	fsm     *fsm.FSM
	mu      sync.Mutex
	onEnter map[string]func()
}

func NewPollerFSM() *PollerFSM {
	p := &PollerFSM{
		onEnter: make(map[string]func()),
	}
	p.fsm = fsm.NewFSM(
		PollStateIdle,
		fsm.Events{
			{Name: PollEventTick, Src: []string{PollStateIdle}, Dst: PollStateReading},
			{Name: PollEventSnapshotRead, Src: []string{PollStateReading}, Dst: PollStatePublishing},
			{Name: PollEventDone, Src: []string{PollStateReading, PollStatePublishing}, Dst: PollStateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if fn, ok := p.onEnter[e.Dst]; ok {
					fn()
				}
			},
		},
	)
	return p
}

func (p *PollerFSM) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fsm.Current()
}

// Event fires event and returns an error if the transition is not allowed
// from the current state.
func (p *PollerFSM) Event(ctx context.Context, event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fsm.Event(ctx, event)
}

// OnEnter registers fn to run whenever state is entered. fn runs with the
// machine locked and must not call back into it.
func (p *PollerFSM) OnEnter(state string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnter[state] = fn
}

func (p *PollerFSM) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fsm.SetState(PollStateIdle)
}
