package invalidation

import (
	"context"
	"sync"

	"github.com/heytom-labs/heytom-cache/farstore"
)

// Bus is the slice of farstore.Store the on-store transport needs.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) (farstore.Subscription, error)
}

// StorePublisher emits events over the far store's pub/sub. Lightweight:
// messages published while no subscriber is connected are lost, which the
// design tolerates.
type StorePublisher struct {
	bus     Bus
	channel string
}

var _ Publisher = (*StorePublisher)(nil)

func NewStorePublisher(bus Bus, channel string) *StorePublisher {
	return &StorePublisher{bus: bus, channel: channel}
}

func (p *StorePublisher) Publish(ctx context.Context, ev Event) error {
	b, err := ev.Marshal()
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, p.channel, b)
}

func (p *StorePublisher) PublishBatch(ctx context.Context, evs []Event) (int, error) {
	var firstErr error
	ok := 0
	for _, ev := range evs {
		if err := p.Publish(ctx, ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok++
	}
	return ok, firstErr
}

// Close is a no-op; the publisher does not own the shared connection.
func (p *StorePublisher) Close() error { return nil }

// StoreSubscriber consumes events from the far store's pub/sub channel.
// A single mutex serializes subscription state changes; the handler runs on
// the transport's delivery goroutine.
type StoreSubscriber struct {
	bus     Bus
	channel string

	mu  sync.Mutex
	sub farstore.Subscription
}

var _ Subscriber = (*StoreSubscriber)(nil)

func NewStoreSubscriber(bus Bus, channel string) *StoreSubscriber {
	return &StoreSubscriber{bus: bus, channel: channel}
}

func (s *StoreSubscriber) Subscribe(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil // already subscribed
	}
	sub, err := s.bus.Subscribe(ctx, s.channel, func(_ string, payload []byte) {
		ev, err := Unmarshal(payload)
		if err != nil {
			return // malformed event; drop
		}
		h(ev)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *StoreSubscriber) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Close()
	s.sub = nil
	return err
}

func (s *StoreSubscriber) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

func (s *StoreSubscriber) Close() error { return s.Unsubscribe() }
