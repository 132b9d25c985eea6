package task

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrEventTypeMismatch is returned when a wait asks for an event under a name that is already
// pending with a different payload type.
var ErrEventTypeMismatch = errors.New("external event type mismatch")

// UnclaimedEventPolicy decides what happens to an event delivered before anyone waits for it.
type UnclaimedEventPolicy int

const (
	// DropUnclaimedEvents discards deliveries that have no waiter.
	DropUnclaimedEvents UnclaimedEventPolicy = iota
	// BufferUnclaimedEvents keeps deliveries that have no waiter for the next wait on that name.
	BufferUnclaimedEvents
)

func (p UnclaimedEventPolicy) String() string {
	if p == BufferUnclaimedEvents {
		return "buffer"
	}
	return "drop"
}

// ParseUnclaimedEventPolicy accepts "drop" or "buffer". The empty string means drop.
func ParseUnclaimedEventPolicy(s string) (UnclaimedEventPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return DropUnclaimedEvents, nil
	case "buffer":
		return BufferUnclaimedEvents, nil
	}
	return DropUnclaimedEvents, fmt.Errorf("unknown unclaimed event policy: %q", s)
}

// DeliveryOutcome reports what Deliver did with a payload.
type DeliveryOutcome int

const (
	EventDelivered DeliveryOutcome = iota
	EventAlreadyResolved
	EventDropped
	EventBuffered
)

func (o DeliveryOutcome) String() string {
	switch o {
	case EventDelivered:
		return "delivered"
	case EventAlreadyResolved:
		return "already_resolved"
	case EventDropped:
		return "dropped"
	case EventBuffered:
		return "buffered"
	}
	return "unknown"
}

type EventStoreOption func(*EventCorrelationStore)

func WithUnclaimedEventPolicy(policy UnclaimedEventPolicy) EventStoreOption {
	return func(s *EventCorrelationStore) {
		s.policy = policy
	}
}

func WithConverters(c *Converters) EventStoreOption {
	return func(s *EventCorrelationStore) {
		if c != nil {
			s.converters = c
		}
	}
}

// EventCorrelationStore pairs waits for named external events with their deliveries. Names
// are case-insensitive and each name holds at most one DeferredValue, so concurrent waiters
// on a name share a single delivery.
type EventCorrelationStore struct {
	mu         sync.Mutex
	policy     UnclaimedEventPolicy
	converters *Converters
	entries    map[string]*DeferredValue
	buffered   map[string][]bufferedEvent
	seq        int
}

type bufferedEvent struct {
	seq  int
	name string
	raw  string
}

func NewEventCorrelationStore(opts ...EventStoreOption) *EventCorrelationStore {
	s := &EventCorrelationStore{
		policy:     DropUnclaimedEvents,
		converters: defaultConverters,
		entries:    make(map[string]*DeferredValue),
		buffered:   make(map[string][]bufferedEvent),
	}
	for _, configure := range opts {
		configure(s)
	}
	return s
}

var defaultConverters = NewConverters()

// WaitFor returns the handle for the next delivery of the named event, materialized as T.
func WaitFor[T any](s *EventCorrelationStore, name string) (*Pending[T], error) {
	key := strings.ToLower(name)
	typ := reflect.TypeFor[T]()

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.entries[key]; ok {
		if d.Type() != typ {
			return nil, fmt.Errorf("%w: event '%s' is awaited as %v, not %v", ErrEventTypeMismatch, name, d.Type(), typ)
		}
		return &Pending[T]{d: d}, nil
	}

	d := newDeferredValue(typ, converterFor[T](s.converters))
	s.entries[key] = d

	if queue := s.buffered[key]; len(queue) > 0 {
		next := queue[0]
		if len(queue) == 1 {
			delete(s.buffered, key)
		} else {
			s.buffered[key] = queue[1:]
		}
		// A materialization error stays on the handle.
		_, _ = d.resolveRaw(next.raw)
		recordDelivery(name, EventDelivered)
	}
	return &Pending[T]{d: d}, nil
}

// Deliver hands a raw payload to the waiter for name. A payload that cannot be materialized
// into the waiter's type resolves the waiter with that error, which is also returned.
func (s *EventCorrelationStore) Deliver(name string, raw string) (DeliveryOutcome, error) {
	key := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	var outcome DeliveryOutcome
	var err error
	if d, ok := s.entries[key]; ok {
		var resolved bool
		if resolved, err = d.resolveRaw(raw); resolved {
			outcome = EventDelivered
		} else {
			outcome, err = EventAlreadyResolved, nil
		}
	} else if s.policy == BufferUnclaimedEvents {
		s.seq++
		s.buffered[key] = append(s.buffered[key], bufferedEvent{seq: s.seq, name: name, raw: raw})
		outcome = EventBuffered
	} else {
		outcome = EventDropped
	}

	recordDelivery(name, outcome)
	return outcome, err
}

// IsWaiting reports whether a wait is registered for name and has not been resolved yet.
func (s *EventCorrelationStore) IsWaiting(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.entries[strings.ToLower(name)]
	return ok && !d.IsResolved()
}

// drainBuffered removes and returns every unclaimed payload in arrival order.
func (s *EventCorrelationStore) drainBuffered() []bufferedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []bufferedEvent
	for key, queue := range s.buffered {
		all = append(all, queue...)
		delete(s.buffered, key)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

var (
	deliveryCounterOnce sync.Once
	deliveryCounter     metric.Int64Counter
)

func recordDelivery(name string, outcome DeliveryOutcome) {
	deliveryCounterOnce.Do(func() {
		counter, err := otel.Meter("durabletask").Int64Counter(
			"durabletask.events.delivered",
			metric.WithDescription("External event deliveries by outcome"),
		)
		if err == nil {
			deliveryCounter = counter
		}
	})
	if deliveryCounter == nil {
		return
	}
	deliveryCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event", strings.ToLower(name)),
		attribute.String("outcome", outcome.String()),
	))
}
