package task

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// DeferredValue is a single-assignment slot for a value of a fixed runtime type. The first
// resolution wins; later attempts are ignored.
type DeferredValue struct {
	typ     reflect.Type
	convert ConverterFunc
	done    chan struct{}

	mu       sync.Mutex
	resolved bool
	value    any
	err      error
}

func newDeferredValue(typ reflect.Type, convert ConverterFunc) *DeferredValue {
	return &DeferredValue{
		typ:     typ,
		convert: convert,
		done:    make(chan struct{}),
	}
}

// Type returns the type the value is materialized into.
func (d *DeferredValue) Type() reflect.Type {
	return d.typ
}

func (d *DeferredValue) IsResolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved
}

// resolveRaw materializes raw into the value's type and resolves it. A conversion failure
// resolves the value with the error.
func (d *DeferredValue) resolveRaw(raw string) (bool, error) {
	v, err := d.convert(raw)
	if err != nil {
		err = fmt.Errorf("failed to materialize payload as %v: %w", d.typ, err)
	}
	return d.resolve(v, err), err
}

func (d *DeferredValue) resolve(v any, err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolved {
		return false
	}
	d.resolved = true
	d.value = v
	d.err = err
	close(d.done)
	return true
}

func (d *DeferredValue) result() (any, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.resolved, d.err
}

// Pending is the typed view of a DeferredValue handed out to waiters.
type Pending[T any] struct {
	d *DeferredValue
}

// Done is closed once the value is resolved.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.d.done
}

// TryGet returns the value without blocking. The bool is false while the value is pending.
func (p *Pending[T]) TryGet() (T, bool, error) {
	var zero T
	v, ok, err := p.d.result()
	if !ok {
		return zero, false, nil
	}
	if err != nil {
		return zero, true, err
	}
	if v == nil {
		return zero, true, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, true, fmt.Errorf("%w: have %T, want %v", ErrEventTypeMismatch, v, reflect.TypeFor[T]())
	}
	return t, true, nil
}

// Wait blocks until the value is resolved or ctx is done.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.d.done:
		v, _, err := p.TryGet()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
