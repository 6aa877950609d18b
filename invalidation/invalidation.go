// Package invalidation carries cross-instance cache invalidation events.
//
// Delivery is best-effort fan-out: every live subscriber sees every event,
// and a lost message only widens the staleness window (entry TTLs still
// bound it; writes reach the authoritative far tier first). Two transports
// exist: the on-store pub/sub in this package, built on farstore.Store, and
// a RabbitMQ fan-out exchange in the rabbitmq subpackage.
package invalidation

import (
	"context"
	"encoding/json"
	"time"
)

// Kind says what happened to the key at the source instance.
type Kind string

const (
	KindUpdate Kind = "Update"
	KindRemove Kind = "Remove"
	KindExpire Kind = "Expire"
)

// Event instructs peers to drop Key from their near tiers. The JSON shape
// is the wire contract; consumers tolerate unknown fields.
type Event struct {
	Key       string    `json:"Key"`
	Type      Kind      `json:"Type"`
	Timestamp time.Time `json:"Timestamp"`
	Source    string    `json:"Source,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(key string, kind Kind, source string) Event {
	return Event{Key: key, Type: kind, Timestamp: time.Now().UTC(), Source: source}
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

func Unmarshal(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

// Handler consumes one inbound event. It runs on a transport-owned
// goroutine and must be re-entrancy-safe. Handlers never republish.
type Handler func(Event)

// Publisher emits events to all current subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error

	// PublishBatch emits events one by one and reports how many were
	// accepted by the transport.
	PublishBatch(ctx context.Context, evs []Event) (int, error)

	Close() error
}

// Subscriber consumes events until Unsubscribe or Close.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) error
	Unsubscribe() error
	IsSubscribed() bool
	Close() error
}
