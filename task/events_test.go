package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_WaitThenDeliver(t *testing.T) {
	s := NewEventCorrelationStore()

	p, err := WaitFor[bool](s, "approved")
	require.NoError(t, err)
	_, ok, _ := p.TryGet()
	assert.False(t, ok)

	outcome, err := s.Deliver("approved", "true")
	require.NoError(t, err)
	assert.Equal(t, EventDelivered, outcome)

	v, ok, err := p.TryGet()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, v)

	// The first resolution wins.
	outcome, err = s.Deliver("approved", "false")
	require.NoError(t, err)
	assert.Equal(t, EventAlreadyResolved, outcome)
	v, _, _ = p.TryGet()
	assert.True(t, v)
}

func Test_EventNamesAreCaseInsensitive(t *testing.T) {
	s := NewEventCorrelationStore()
	p, err := WaitFor[string](s, "Approval")
	require.NoError(t, err)

	outcome, err := s.Deliver("APPROVAL", `"yes"`)
	require.NoError(t, err)
	assert.Equal(t, EventDelivered, outcome)

	v, ok, err := p.TryGet()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}

func Test_ConcurrentWaitsShareOneDelivery(t *testing.T) {
	s := NewEventCorrelationStore()

	const waiters = 8
	handles := make([]*Pending[int], waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := WaitFor[int](s, "x")
			assert.NoError(t, err)
			handles[i] = p
		}(i)
	}
	wg.Wait()

	go func() {
		_, _ = s.Deliver("x", "42")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range handles {
		v, err := p.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Same(t, handles[0].d, handles[waiters-1].d)
}

func Test_DeliveryBeforeWaitIsDroppedByDefault(t *testing.T) {
	s := NewEventCorrelationStore()

	outcome, err := s.Deliver("approved", "true")
	require.NoError(t, err)
	assert.Equal(t, EventDropped, outcome)

	p, err := WaitFor[bool](s, "approved")
	require.NoError(t, err)
	_, ok, _ := p.TryGet()
	assert.False(t, ok, "a dropped delivery must not resolve a later wait")
	assert.True(t, s.IsWaiting("approved"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_DeliveryBeforeWaitIsBufferedWhenEnabled(t *testing.T) {
	s := NewEventCorrelationStore(WithUnclaimedEventPolicy(BufferUnclaimedEvents))

	outcome, err := s.Deliver("approved", "true")
	require.NoError(t, err)
	assert.Equal(t, EventBuffered, outcome)

	p, err := WaitFor[bool](s, "approved")
	require.NoError(t, err)
	v, ok, err := p.TryGet()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, v)
	assert.Empty(t, s.drainBuffered())
}

func Test_DrainBufferedKeepsArrivalOrder(t *testing.T) {
	s := NewEventCorrelationStore(WithUnclaimedEventPolicy(BufferUnclaimedEvents))
	_, _ = s.Deliver("b", "1")
	_, _ = s.Deliver("a", "2")
	_, _ = s.Deliver("b", "3")

	drained := s.drainBuffered()
	require.Len(t, drained, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{drained[0].raw, drained[1].raw, drained[2].raw})
	assert.Equal(t, "a", drained[1].name)
}

func Test_WaitWithDifferentTypeFails(t *testing.T) {
	s := NewEventCorrelationStore()
	_, err := WaitFor[int](s, "x")
	require.NoError(t, err)

	_, err = WaitFor[string](s, "x")
	assert.ErrorIs(t, err, ErrEventTypeMismatch)
}

func Test_MaterializationFailureResolvesWithError(t *testing.T) {
	s := NewEventCorrelationStore()
	p, err := WaitFor[int](s, "count")
	require.NoError(t, err)

	outcome, err := s.Deliver("count", "not-a-number")
	assert.Error(t, err)
	assert.Equal(t, EventDelivered, outcome)

	_, ok, err := p.TryGet()
	assert.True(t, ok)
	assert.Error(t, err)
}

type approval struct {
	By       string `json:"by"`
	Approved bool   `json:"approved"`
}

func Test_StructPayloadsFallBackToJSON(t *testing.T) {
	s := NewEventCorrelationStore()
	p, err := WaitFor[approval](s, "approval")
	require.NoError(t, err)

	_, err = s.Deliver("approval", `{"by":"ops","approved":true}`)
	require.NoError(t, err)

	v, ok, err := p.TryGet()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, approval{By: "ops", Approved: true}, v)
}

func Test_Converters(t *testing.T) {
	c := NewConverters()

	s, err := converterFor[string](c)(`"quoted"`)
	require.NoError(t, err)
	assert.Equal(t, "quoted", s)

	s, err = converterFor[string](c)("plain text")
	require.NoError(t, err)
	assert.Equal(t, "plain text", s)

	n, err := converterFor[int64](c)(`"17"`)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	raw, err := converterFor[json.RawMessage](c)(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"a":1}`), raw)

	type celsius float64
	RegisterConverter(c, func(raw string) (celsius, error) { return 21.5, nil })
	temp, err := converterFor[celsius](c)("ignored")
	require.NoError(t, err)
	assert.Equal(t, celsius(21.5), temp)
}

func Test_ParseUnclaimedEventPolicy(t *testing.T) {
	p, err := ParseUnclaimedEventPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropUnclaimedEvents, p)

	p, err = ParseUnclaimedEventPolicy("Buffer")
	require.NoError(t, err)
	assert.Equal(t, BufferUnclaimedEvents, p)

	_, err = ParseUnclaimedEventPolicy("keep")
	assert.Error(t, err)
}
