// Package codec is the pluggable serialization boundary spec §9 calls
// "the codec plug-point": a class registry that maps a registered Go
// type to a stable integer, and a small interface that turns a value
// into bytes and back. transport depends only on this interface, never
// on a specific serialization library, so the wire format names a
// serialization-method code (Params.SerializationMethod) rather than a
// Go type.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package codec

import (
	"fmt"
	"reflect"
	"sync"
)

type (
	// Codec encodes/decodes values of registered types. transport calls
	// Encode once per object send (Stage A) and Decode once per object
	// aggregator completion (§4.4).
	Codec interface {
		// Method is the wire serialization-method code this codec
		// implements (0, 1 or 2 - see transport.Params.SerializationMethod).
		Method() int
		// Encode serializes v, previously registered via Register, to bytes.
		Encode(v any) ([]byte, error)
		// Decode deserializes b into a fresh value of the type registered
		// under typeID.
		Decode(typeID uint32, b []byte) (any, error)
	}

	// Registry maps a registered Go type to the stable integer that
	// travels on the wire in the object header's method-specific type
	// tag. One Registry is shared by every Codec so that a value
	// registered once works across all three serialization methods.
	Registry struct {
		mu      sync.RWMutex
		byType  map[reflect.Type]uint32
		byID    map[uint32]reflect.Type
		nextID  uint32
	}
)

// DefaultRegistry is the process-wide class registry, mirroring the
// teacher's convention of a package-level singleton (cmn.GCO) that every
// codec shares rather than each carrying its own.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]uint32, 16),
		byID:   make(map[uint32]reflect.Type, 16),
		nextID: 1, // 0 is reserved: "no type" / header-only signal payloads
	}
}

// Register assigns a stable type-id to v's type, idempotently: calling
// Register twice with values of the same type returns the same id.
func (r *Registry) Register(v any) uint32 {
	t := reflect.TypeOf(v)
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byType[t]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.byType[t] = id
	r.byID[id] = t
	return id
}

func (r *Registry) TypeID(v any) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[reflect.TypeOf(v)]
	return id, ok
}

func (r *Registry) New(typeID uint32) (any, error) {
	r.mu.RLock()
	t, ok := r.byID[typeID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec: type-id %d not registered", typeID)
	}
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface(), nil
	}
	return reflect.New(t).Interface(), nil
}

// Reset restores the registry to its factory-empty state, for test
// isolation (mirrors spec §9's "reset() operation restores factory
// defaults").
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType = make(map[reflect.Type]uint32, 16)
	r.byID = make(map[uint32]reflect.Type, 16)
	r.nextID = 1
}

// ForMethod returns the stock codec implementing the given
// serialization-method code (0 = json-iterator, 1 = gob, 2 = msgp),
// sharing DefaultRegistry. transport.Params.SerializationMethod selects
// the index passed here.
func ForMethod(method int) (Codec, error) {
	switch method {
	case 0:
		return NewJSONCodec(DefaultRegistry), nil
	case 1:
		return NewGobCodec(DefaultRegistry), nil
	case 2:
		return NewMsgpCodec(DefaultRegistry), nil
	default:
		return nil, fmt.Errorf("codec: unknown serialization method %d", method)
	}
}
