package task

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// ConverterFunc materializes a raw text payload into a value of a registered type.
type ConverterFunc func(raw string) (any, error)

// Converters maps type tags to converter functions. Types without an entry are decoded as JSON.
type Converters struct {
	mu     sync.RWMutex
	byType map[reflect.Type]ConverterFunc
}

// NewConverters returns a registry with converters for the common primitive payload types.
func NewConverters() *Converters {
	c := &Converters{byType: make(map[reflect.Type]ConverterFunc)}

	RegisterConverter(c, func(raw string) (string, error) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s, nil
		}
		// not a JSON string literal
		return raw, nil
	})
	RegisterConverter(c, func(raw string) ([]byte, error) {
		return []byte(raw), nil
	})
	RegisterConverter(c, func(raw string) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	})
	RegisterConverter(c, func(raw string) (bool, error) {
		return strconv.ParseBool(unquote(raw))
	})
	RegisterConverter(c, func(raw string) (int, error) {
		return strconv.Atoi(unquote(raw))
	})
	RegisterConverter(c, func(raw string) (int64, error) {
		return strconv.ParseInt(unquote(raw), 10, 64)
	})
	RegisterConverter(c, func(raw string) (float64, error) {
		return strconv.ParseFloat(unquote(raw), 64)
	})
	return c
}

// RegisterConverter adds or replaces the converter for T.
func RegisterConverter[T any](c *Converters, fn func(raw string) (T, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[reflect.TypeFor[T]()] = func(raw string) (any, error) {
		return fn(raw)
	}
}

func (c *Converters) lookup(t reflect.Type) (ConverterFunc, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.byType[t]
	return fn, ok
}

// converterFor returns the registered converter for T, or a JSON decoder into T.
func converterFor[T any](c *Converters) ConverterFunc {
	if fn, ok := c.lookup(reflect.TypeFor[T]()); ok {
		return fn
	}
	return func(raw string) (any, error) {
		var v T
		if strings.TrimSpace(raw) == "" {
			return v, nil
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	if s, err := strconv.Unquote(raw); err == nil {
		return s
	}
	return raw
}
