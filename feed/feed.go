// Package feed is the change feed: per-collection, per-filter push channels
// that deliver insert and update notifications for committed records.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Collection string

const (
	Lobbies     Collection = "lobbies"
	Players     Collection = "players"
	Rounds      Collection = "rounds"
	Submissions Collection = "submissions"
	Votes       Collection = "votes"
)

type Op string

const (
	Insert Op = "INSERT"
	Update Op = "UPDATE"
)

// Filter scopes a subscription to records whose Field equals Value.
type Filter struct {
	Field string
	Value string
}

func Eq(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

func (f Filter) String() string {
	return f.Field + "=eq." + f.Value
}

// Event carries the full record after the change was committed.
type Event struct {
	Collection  Collection      `json:"collection"`
	Op          Op              `json:"op"`
	Record      json.RawMessage `json:"record"`
	CommittedAt time.Time       `json:"committed_at"`

	// Scopes lists the filters this event is delivered to.
	Scopes []Filter `json:"-"`
}

// NewEvent marshals record into an event for the given scopes.
func NewEvent(collection Collection, op Op, record any, scopes ...Filter) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s record: %w", collection, err)
	}
	return Event{
		Collection:  collection,
		Op:          op,
		Record:      raw,
		CommittedAt: time.Now().UTC(),
		Scopes:      scopes,
	}, nil
}

// Decode unmarshals the event record into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Record, v); err != nil {
		return fmt.Errorf("decode %s record: %w", e.Collection, err)
	}
	return nil
}

// Channel is the wire channel name for a collection and filter.
func Channel(collection Collection, filter Filter) string {
	return "feed:" + string(collection) + ":" + filter.String()
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handlers receive events for one subscription. Either may be nil.
type Handlers struct {
	OnInsert func(Event)
	OnUpdate func(Event)
}

func (h Handlers) dispatch(event Event) {
	switch event.Op {
	case Insert:
		if h.OnInsert != nil {
			h.OnInsert(event)
		}
	case Update:
		if h.OnUpdate != nil {
			h.OnUpdate(event)
		}
	}
}

type Subscriber interface {
	Subscribe(ctx context.Context, collection Collection, filter Filter, handlers Handlers) (*Subscription, error)
	Unsubscribe(sub *Subscription) error
}
