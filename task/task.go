package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

// ErrTaskBlocked unwinds an orchestrator that awaits something history does not contain
// yet. It is raised as a panic value and must never be recovered by orchestrator code: the
// executor catches it, commits the actions scheduled so far and replays the orchestrator
// when new events arrive.
var ErrTaskBlocked = errors.New("the current task is blocked")

// RawPayload is a result or input that is already serialized and is stored as-is.
type RawPayload string

// Task is a durable future.
type Task interface {
	Await(v any) error
}

// fatalError aborts the orchestrator function and fails the orchestration.
type fatalError struct {
	err error
}

// IsControlFlowPanic reports whether a recovered panic value belongs to the orchestration
// runtime. Code that recovers around orchestrator functions must re-panic such values.
func IsControlFlowPanic(v any) bool {
	if v == ErrTaskBlocked {
		return true
	}
	_, ok := v.(fatalError)
	return ok
}

// waitUntil advances the replay until done reports true. When history runs out first the
// orchestrator is unwound with ErrTaskBlocked.
func (ctx *OrchestrationContext) waitUntil(done func() bool) {
	for !done() {
		if !ctx.mustStep() {
			panic(ErrTaskBlocked)
		}
	}
}

// completableTask is the future of an activity or a timer, resolved by a history event.
type completableTask struct {
	octx      *OrchestrationContext
	name      string
	done      bool
	rawResult []byte
	failure   *api.FailureDetails
}

func newTask(ctx *OrchestrationContext, name string) *completableTask {
	return &completableTask{octx: ctx, name: name}
}

// Await blocks until the task is resolved and decodes its result into v, which may be nil.
// A failed activity is reported as an [*api.TaskFailedError].
func (t *completableTask) Await(v any) error {
	t.octx.waitUntil(func() bool { return t.done })
	if t.failure != nil {
		return &api.TaskFailedError{TaskName: t.name, Details: t.failure}
	}
	if err := unmarshalData(t.rawResult, v); err != nil {
		return fmt.Errorf("failed to decode task result: %w", err)
	}
	return nil
}

func (t *completableTask) complete(rawResult []byte) {
	t.done, t.rawResult = true, rawResult
}

func (t *completableTask) fail(fd *api.FailureDetails) {
	t.done, t.failure = true, fd
}

// EventTask is the task returned by [WaitForExternalEvent].
type EventTask[T any] struct {
	octx    *OrchestrationContext
	name    string
	pending *Pending[T]
	err     error
}

// Get blocks until the event has been delivered and returns its payload. A payload that
// cannot be materialized as T fails the orchestration.
func (t *EventTask[T]) Get() (T, error) {
	if t.err != nil {
		var zero T
		return zero, t.err
	}
	var (
		value T
		err   error
	)
	t.octx.waitUntil(func() (ok bool) {
		value, ok, err = t.pending.TryGet()
		return ok
	})
	if err != nil {
		panic(fatalError{err: fmt.Errorf("external event '%s': %w", t.name, err)})
	}
	return value, nil
}

// Await implements [Task]. v must be nil or a *T.
func (t *EventTask[T]) Await(v any) error {
	value, err := t.Get()
	if err != nil {
		return err
	}
	switch p := v.(type) {
	case nil:
	case *T:
		*p = value
	default:
		return fmt.Errorf("cannot store event '%s' of type %v into %T", t.name, reflect.TypeFor[T](), v)
	}
	return nil
}

// IsResolved reports whether the event has already been delivered, without blocking.
func (t *EventTask[T]) IsResolved() bool {
	if t.err != nil {
		return true
	}
	_, ok, _ := t.pending.TryGet()
	return ok
}

// unmarshalData decodes JSON into v. A *string target takes raw text results as they are and
// decodes only JSON string literals, so a raw result that is itself a quoted string loses its
// quotes; such results should be sent JSON-encoded.
func unmarshalData(data []byte, v any) error {
	if v == nil || len(data) == 0 {
		return nil
	}
	if s, ok := v.(*string); ok {
		if data[0] != '"' || json.Unmarshal(data, s) != nil {
			*s = string(data)
		}
		return nil
	}
	return json.Unmarshal(data, v)
}

func marshalData(v any) ([]byte, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case RawPayload:
		return []byte(raw), nil
	default:
		return json.Marshal(v)
	}
}
