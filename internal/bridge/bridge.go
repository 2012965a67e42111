package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/buildtall-systems/orderbridge/internal/fsm"
)

// Default timings.
const (
	DefaultPollInterval     = time.Second
	DefaultOperationTimeout = 10 * time.Second
)

// Config controls topics and timing of the poll loop.
type Config struct {
	OrderTopic       string
	StopTopic        string
	RecoveryTopic    string
	PollInterval     time.Duration
	OperationTimeout time.Duration

	// ReplayStaleCommands relays a stop or recovery command found on the
	// very first read. When false the first read only seeds the token.
	ReplayStaleCommands bool

	Verbose bool
}

// TickResult summarizes one poll tick.
type TickResult struct {
	Skipped   bool
	Published int
	Failed    int
}

// Bridge polls the remote store and relays new orders and commands to the
// message bus.
type Bridge struct {
	store   RemoteStore
	pub     Publisher
	cfg     Config
	tracker *Tracker
	poller  *fsm.PollerFSM

	stopSeeded     bool
	recoverySeeded bool
}

// New creates a bridge with empty tracking state.
func New(store RemoteStore, pub Publisher, cfg Config) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	b := &Bridge{
		store:   store,
		pub:     pub,
		cfg:     cfg,
		tracker: NewTracker(),
		poller:  fsm.NewPollerFSM(),
		// Seeding only applies when stale commands are not replayed.
		stopSeeded:     cfg.ReplayStaleCommands,
		recoverySeeded: cfg.ReplayStaleCommands,
	}
	if cfg.Verbose {
		b.poller.OnEnter(fsm.PollStateReading, func() { log.Printf("tick: reading remote store") })
		b.poller.OnEnter(fsm.PollStatePublishing, func() { log.Printf("tick: relaying new records") })
	}
	return b
}

// Tracker exposes the tracking state for inspection.
func (b *Bridge) Tracker() *Tracker { return b.tracker }

// Run polls every PollInterval until ctx is cancelled. A tick in progress
// when ctx is cancelled runs to completion.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	log.Printf("polling remote store every %s", b.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("poll loop stopped (%d orders relayed)", b.tracker.ProcessedCount())
			return nil
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. If another tick is still active it returns
// immediately with Skipped set.
func (b *Bridge) Tick(ctx context.Context) TickResult {
	// In-flight reads and publishes outlive shutdown; each one is bounded by
	// OperationTimeout instead.
	opCtx := context.WithoutCancel(ctx)

	if err := b.poller.Event(opCtx, fsm.PollEventTick); err != nil {
		log.Printf("previous poll still running, skipping tick")
		return TickResult{Skipped: true}
	}
	defer func() {
		if err := b.poller.Event(opCtx, fsm.PollEventDone); err != nil {
			log.Printf("poll state error: %v", err)
			b.poller.Reset()
		}
	}()

	orders, _ := b.read(opCtx, PathOrders)
	stop, stopOK := b.read(opCtx, PathEmergencyStop)
	recovery, recoveryOK := b.read(opCtx, PathRecoveryCommand)
	snap := Snapshot{Orders: orders, Stop: stop, Recovery: recovery}

	b.seed(snap, stopOK, recoveryOK)

	if err := b.poller.Event(opCtx, fsm.PollEventSnapshotRead); err != nil {
		log.Printf("poll state error: %v", err)
	}

	var res TickResult
	for ev := range Detect(snap, b.tracker) {
		if err := b.relay(opCtx, ev); err != nil {
			log.Printf("relay failed, will retry next tick: %v", err)
			res.Failed++
			continue
		}
		res.Published++
	}

	if b.cfg.Verbose {
		log.Printf("tick: published=%d failed=%d processed_total=%d",
			res.Published, res.Failed, b.tracker.ProcessedCount())
	}
	return res
}

// read fetches one path. Errors are logged and reported as an absent value
// so the other sources are still processed.
func (b *Bridge) read(ctx context.Context, path string) (any, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	v, err := b.store.Get(ctx, path)
	if err != nil {
		log.Printf("reading %s: %v", path, err)
		return nil, false
	}
	return v, true
}

// seed records the current command tokens without relaying them, once per
// source, on the first successful read.
func (b *Bridge) seed(snap Snapshot, stopOK, recoveryOK bool) {
	if !b.stopSeeded && stopOK {
		b.stopSeeded = true
		if stop, ok := ParseStop(snap.Stop); ok {
			b.tracker.MarkStop(stop.Token)
			log.Printf("seeded stop command token %s without relaying", stop.Token)
		}
	}
	if !b.recoverySeeded && recoveryOK {
		b.recoverySeeded = true
		if rec, ok := ParseRecovery(snap.Recovery); ok {
			b.tracker.MarkRecovery(rec.Token)
			log.Printf("seeded recovery command token %s without relaying", rec.Token)
		}
	}
}

// relay publishes one event and marks it relayed only if the publish
// succeeded.
func (b *Bridge) relay(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case NewOrder:
		payload, err := EncodeOrder(ev.Order)
		if err != nil {
			return err
		}
		log.Printf("new order detected: %s", ev.Order.ID)
		if err := b.publish(ctx, b.cfg.OrderTopic, payload); err != nil {
			return fmt.Errorf("publishing order %s: %w", ev.Order.ID, err)
		}
		b.tracker.MarkOrder(ev.Order.ID)
		log.Printf("order relayed: %s (id: %s)", ev.Order.BurgerName(), ev.Order.ID)

	case StopRequested:
		log.Printf("emergency stop detected, token: %s", ev.Token)
		if err := b.publish(ctx, b.cfg.StopTopic, []byte(StopCommandValue)); err != nil {
			return fmt.Errorf("publishing stop: %w", err)
		}
		b.tracker.MarkStop(ev.Token)
		log.Printf("emergency stop relayed")

	case RecoveryRequested:
		log.Printf("recovery command detected: %s", ev.Command)
		if err := b.publish(ctx, b.cfg.RecoveryTopic, []byte(ev.Command)); err != nil {
			return fmt.Errorf("publishing recovery command: %w", err)
		}
		b.tracker.MarkRecovery(ev.Token)
		log.Printf("recovery command relayed: %s", ev.Command)

	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
	return nil
}

func (b *Bridge) publish(ctx context.Context, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()
	return b.pub.Publish(ctx, topic, payload)
}
