package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var errFake = errors.New("fake failure")

// memStore is an in-memory RemoteStore keyed by slash-separated paths.
type memStore struct {
	mu       sync.Mutex
	root     map[string]any
	failGet  map[string]bool
	failSet  bool
	failUpd  bool
	getCalls map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		root:     make(map[string]any),
		failGet:  make(map[string]bool),
		getCalls: make(map[string]int),
	}
}

func (s *memStore) Get(_ context.Context, path string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls[path]++
	if s.failGet[path] {
		return nil, errFake
	}
	var cur any = s.root
	for _, seg := range strings.Split(path, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		cur = m[seg]
	}
	return cur, nil
}

func (s *memStore) Set(_ context.Context, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errFake
	}
	parent, key := s.parent(path)
	parent[key] = value
	return nil
}

func (s *memStore) Update(_ context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpd {
		return errFake
	}
	parent, key := s.parent(path)
	m, ok := parent[key].(map[string]any)
	if !ok {
		m = make(map[string]any)
		parent[key] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (s *memStore) parent(path string) (map[string]any, string) {
	segs := strings.Split(path, "/")
	cur := s.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	return cur, segs[len(segs)-1]
}

type published struct {
	topic   string
	payload string
}

// recordingPublisher records publishes and can be told to fail per topic.
type recordingPublisher struct {
	mu        sync.Mutex
	msgs      []published
	failTopic map[string]bool
	entered   chan struct{}
	release   chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{failTopic: make(map[string]bool)}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTopic[topic] {
		return errFake
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload)})
	return nil
}

func (p *recordingPublisher) setFail(topic string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTopic[topic] = fail
}

func (p *recordingPublisher) onTopic(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}
