package event

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/openquant/botcore/internal/domain"
)

// memStreamCap bounds each in-memory stream, mirroring the approximate
// MAXLEN trimming the redis implementation applies.
const memStreamCap = 10000

// MemBus is an in-memory domain.EventBus for tests and single-binary
// deployments where redis is not configured. Subscribers receive payloads on
// buffered channels; a slow subscriber drops messages rather than blocking
// the publisher.
type MemBus struct {
	mu      sync.Mutex
	subs    map[string][]*memSub
	streams map[string][]domain.StreamMessage
	nextID  uint64
}

type memSub struct {
	ch   chan []byte
	done <-chan struct{}
}

// NewMemBus creates an empty MemBus.
func NewMemBus() *MemBus {
	return &MemBus{
		subs:    make(map[string][]*memSub),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every live subscriber of channel.
func (m *MemBus) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.subs[channel][:0]
	for _, s := range m.subs[channel] {
		select {
		case <-s.done:
			close(s.ch)
			continue
		default:
		}
		live = append(live, s)
		select {
		case s.ch <- payload:
		default:
			// Subscriber buffer full; drop for this subscriber.
		}
	}
	m.subs[channel] = live
	return nil
}

// Subscribe returns a channel of payloads published to channel. The channel
// is closed after the context is cancelled and the next publish occurs.
func (m *MemBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &memSub{ch: make(chan []byte, 128), done: ctx.Done()}
	m.subs[channel] = append(m.subs[channel], s)
	return s.ch, nil
}

// StreamAppend appends payload to the named stream, trimming the oldest
// entries beyond the capacity bound.
func (m *MemBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	entries := append(m.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(m.nextID, 10),
		Payload: payload,
	})
	if overflow := len(entries) - memStreamCap; overflow > 0 {
		entries = append([]domain.StreamMessage(nil), entries[overflow:]...)
	}
	m.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with IDs greater than lastID. Use
// "0" to read from the beginning.
func (m *MemBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := uint64(0)
	if lastID != "" && lastID != "0" && lastID != "0-0" {
		n, err := strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("membus: bad stream id %q: %w", lastID, err)
		}
		after = n
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.StreamMessage
	for _, msg := range m.streams[stream] {
		id, _ := strconv.ParseUint(msg.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*MemBus)(nil)
