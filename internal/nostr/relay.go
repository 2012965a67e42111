package nostr

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/buildtall-systems/orderbridge/internal/bridge"
)

// DefaultKind is the ephemeral event kind used for bus messages. Relays do
// not store ephemeral events, so a late subscriber never replays old
// commands.
const DefaultKind = 25050

// ErrNotConnected indicates no relay connection is available.
var ErrNotConnected = errors.New("not connected to any relay")

// RelayManager carries bus messages as signed Nostr events over several
// relays. Each message is one event of the configured kind with a "t" tag
// naming the topic and the payload as content.
type RelayManager struct {
	relayURLs      []string
	kind           int
	kr             nostr.Keyer
	pubkeyHex      string
	allowedAuthors []string // hex pubkeys; empty accepts any author
	relays         []*nostr.Relay
	handlers       map[string]bridge.Handler
	mu             sync.RWMutex

	events chan *nostr.Event
	seen   *seenIDs

	// Internal state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayManager creates a relay manager that signs with kr and accepts
// inbound events only from allowedAuthors (hex) when that list is non-empty.
func NewRelayManager(relayURLs []string, kind int, kr nostr.Keyer, allowedAuthors []string) *RelayManager {
	if kind == 0 {
		kind = DefaultKind
	}
	return &RelayManager{
		relayURLs:      relayURLs,
		kind:           kind,
		kr:             kr,
		allowedAuthors: allowedAuthors,
		handlers:       make(map[string]bridge.Handler),
		events:         make(chan *nostr.Event, 100),
		seen:           newSeenIDs(10 * time.Minute),
	}
}

// Connect establishes connections to all configured relays and starts
// subscriptions for every registered topic.
func (rm *RelayManager) Connect(ctx context.Context) error {
	pubkey, err := rm.kr.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("getting bridge pubkey: %w", err)
	}
	rm.pubkeyHex = pubkey

	rm.ctx, rm.cancel = context.WithCancel(ctx)

	var connected int
	for _, url := range rm.relayURLs {
		relay, err := nostr.RelayConnect(rm.ctx, url)
		if err != nil {
			log.Printf("failed to connect to %s: %v", url, err)
			continue
		}

		rm.mu.Lock()
		rm.relays = append(rm.relays, relay)
		topics := rm.topicsLocked()
		rm.mu.Unlock()

		connected++
		log.Printf("connected to %s", url)

		for _, topic := range topics {
			rm.wg.Add(1)
			go rm.subscribeRelay(relay, topic)
		}
	}

	if connected == 0 {
		rm.cancel()
		return fmt.Errorf("failed to connect to any relays")
	}

	rm.wg.Add(2)
	go rm.dispatch()
	go func() {
		defer rm.wg.Done()
		rm.seen.run(rm.ctx, time.Minute)
	}()

	log.Printf("connected to %d/%d relays", connected, len(rm.relayURLs))
	return nil
}

// Subscribe registers h for topic. Subscriptions registered before Connect
// start when it runs; later ones start immediately on every relay.
func (rm *RelayManager) Subscribe(ctx context.Context, topic string, h bridge.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rm.mu.Lock()
	if _, exists := rm.handlers[topic]; exists {
		rm.mu.Unlock()
		return fmt.Errorf("topic %s already has a handler", topic)
	}
	rm.handlers[topic] = h
	relays := make([]*nostr.Relay, len(rm.relays))
	copy(relays, rm.relays)
	rm.mu.Unlock()

	for _, relay := range relays {
		rm.wg.Add(1)
		go rm.subscribeRelay(relay, topic)
	}
	return nil
}

func (rm *RelayManager) topicsLocked() []string {
	topics := make([]string, 0, len(rm.handlers))
	for topic := range rm.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// subscribeRelay manages one topic subscription on one relay with
// reconnection logic.
func (rm *RelayManager) subscribeRelay(relay *nostr.Relay, topic string) {
	defer rm.wg.Done()

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-rm.ctx.Done():
			return
		default:
		}

		filters := []nostr.Filter{rm.filter(topic)}

		sub, err := relay.Subscribe(rm.ctx, filters)
		if err != nil {
			log.Printf("subscription to %s failed on %s: %v", topic, relay.URL, err)
			if rm.reconnect(relay, &backoff, maxBackoff) {
				continue
			}
			return
		}

		// Reset backoff on successful subscription
		backoff = time.Second
		log.Printf("subscribed to %s on %s", topic, relay.URL)

	events:
		for {
			select {
			case <-rm.ctx.Done():
				sub.Unsub()
				return

			case event, ok := <-sub.Events:
				if !ok {
					log.Printf("subscription closed on %s, reconnecting...", relay.URL)
					if rm.reconnect(relay, &backoff, maxBackoff) {
						break events
					}
					return
				}

				rm.routeEvent(event)
			}
		}
	}
}

func (rm *RelayManager) filter(topic string) nostr.Filter {
	f := nostr.Filter{
		Kinds: []int{rm.kind},
		Tags:  nostr.TagMap{"t": []string{topic}},
	}
	if len(rm.allowedAuthors) > 0 {
		f.Authors = rm.allowedAuthors
	}
	return f
}

// reconnect attempts to reconnect to a relay with exponential backoff.
// Returns true if reconnection should be attempted, false if context is done.
func (rm *RelayManager) reconnect(relay *nostr.Relay, backoff *time.Duration, maxBackoff time.Duration) bool {
	select {
	case <-rm.ctx.Done():
		return false
	case <-time.After(*backoff):
	}

	err := relay.Connect(rm.ctx)
	if err != nil {
		log.Printf("reconnect to %s failed: %v", relay.URL, err)

		*backoff *= 2
		if *backoff > maxBackoff {
			*backoff = maxBackoff
		}
		return true
	}

	log.Printf("reconnected to %s", relay.URL)
	*backoff = time.Second
	return true
}

// routeEvent queues an inbound event for dispatch.
func (rm *RelayManager) routeEvent(event *nostr.Event) {
	select {
	case rm.events <- event:
	default:
		log.Printf("inbound event channel full, dropping event %s", event.ID)
	}
}

// dispatch delivers queued events to topic handlers one at a time.
func (rm *RelayManager) dispatch() {
	defer rm.wg.Done()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case event := <-rm.events:
			rm.deliver(event)
		}
	}
}

func (rm *RelayManager) deliver(event *nostr.Event) {
	if event == nil {
		return
	}
	// Only accepted events claim an ID, so a forged copy cannot shadow the
	// signed original.
	topic, ok := rm.accept(event)
	if !ok || !rm.seen.firstSighting(event.ID) {
		return
	}

	rm.mu.RLock()
	h := rm.handlers[topic]
	rm.mu.RUnlock()
	if h == nil {
		return
	}
	h(rm.ctx, []byte(event.Content))
}

// accept checks kind, author and signature, and returns the event's topic.
func (rm *RelayManager) accept(event *nostr.Event) (string, bool) {
	if event.Kind != rm.kind || event.PubKey == rm.pubkeyHex {
		return "", false
	}
	if len(rm.allowedAuthors) > 0 && !contains(rm.allowedAuthors, event.PubKey) {
		log.Printf("ignoring event %s from unlisted author", event.ID)
		return "", false
	}
	if ok, err := event.CheckSignature(); err != nil || !ok {
		log.Printf("ignoring event %s with invalid signature", event.ID)
		return "", false
	}
	topic := TopicOf(event)
	if topic == "" {
		return "", false
	}
	return topic, true
}

// Publish signs payload as a topic event and sends it to all connected relays.
func (rm *RelayManager) Publish(ctx context.Context, topic string, payload []byte) error {
	event := BusEvent(rm.kind, topic, payload)
	event.PubKey = rm.pubkeyHex
	if err := rm.kr.SignEvent(ctx, &event); err != nil {
		return fmt.Errorf("signing event: %w", err)
	}

	rm.mu.RLock()
	relays := make([]*nostr.Relay, len(rm.relays))
	copy(relays, rm.relays)
	rm.mu.RUnlock()

	if len(relays) == 0 {
		return ErrNotConnected
	}

	var lastErr error
	var published int

	for _, relay := range relays {
		err := relay.Publish(ctx, event)
		if err != nil {
			lastErr = err
			log.Printf("publish to %s failed: %v", relay.URL, err)
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	return nil
}

// Close gracefully shuts down all relay connections.
func (rm *RelayManager) Close() {
	if rm.cancel != nil {
		rm.cancel()
	}

	rm.wg.Wait()

	rm.mu.Lock()
	for _, relay := range rm.relays {
		_ = relay.Close()
	}
	rm.relays = nil
	rm.mu.Unlock()

	log.Printf("relay manager closed")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
