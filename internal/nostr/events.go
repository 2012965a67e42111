package nostr

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// TopicTag is the tag that carries a bus message's topic.
const TopicTag = "t"

// BusEvent builds an unsigned bus message for topic. The payload is carried
// verbatim as the event content.
func BusEvent(kind int, topic string, payload []byte) nostr.Event {
	return nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{TopicTag, topic}},
		Content:   string(payload),
	}
}

// TopicOf returns the value of the event's first topic tag, or "" if none.
func TopicOf(event *nostr.Event) string {
	tag := event.Tags.Find(TopicTag)
	if len(tag) < 2 {
		return ""
	}
	return tag[1]
}

// seenIDs remembers event IDs for ttl so a message that arrives from several
// relays is delivered once.
type seenIDs struct {
	ttl time.Duration
	mu  sync.Mutex
	ids map[string]time.Time
}

func newSeenIDs(ttl time.Duration) *seenIDs {
	return &seenIDs{ttl: ttl, ids: make(map[string]time.Time)}
}

// firstSighting records id and reports whether it was not already known.
func (s *seenIDs) firstSighting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = time.Now()
	return true
}

// expire forgets IDs first seen before now-ttl and returns how many went.
func (s *seenIDs) expire(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.ttl)
	var n int
	for id, at := range s.ids {
		if at.Before(cutoff) {
			delete(s.ids, id)
			n++
		}
	}
	return n
}

// run expires IDs every interval until ctx is done.
func (s *seenIDs) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.expire(now)
		}
	}
}
