// Package transport implements a connection-oriented object/file
// streaming protocol over a reliable byte stream (TCP): parcel framing,
// a multi-priority send scheduler, receive-side reassembly for both
// in-memory objects and on-disk files, a signal/control-plane state
// machine, and two-phase graceful shutdown.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/nxconn/nxconn/cmn/cos"
)

// DeliveryMode selects whether a connection's event-delivery worker is
// shared with every other connection in the process (GLOBAL) or
// dedicated to this connection alone (INDIVIDUAL). See §4.6/§4.8.
type DeliveryMode int

const (
	DeliveryGlobal DeliveryMode = iota
	DeliveryIndividual
)

func (m DeliveryMode) String() string {
	if m == DeliveryIndividual {
		return "INDIVIDUAL"
	}
	return "GLOBAL"
}

// Params is the validated configuration record. Every field mirrors the
// table in spec §6; Validate enforces the stated bounds and is called
// exactly once, at newConnection time - Params is never mutated after
// that, matching the teacher's cmn.Config construction convention.
type Params struct {
	TransmissionParcelSize int // bytes; 1KiB..256KiB
	ObjectQueueCapacity    int // pending send-orders; <=10000
	ParcelQueueCapacity    int // pending outgoing parcels
	MaxSerializationSize   int64 // object size ceiling; >=10KiB
	AlivePeriod            time.Duration // 0 == off; else 5s..10m
	ConfirmTimeout         time.Duration // wait for file CONFIRM; >=1s
	IdleCheckPeriod        time.Duration // >=5s
	IdleThreshold          int64         // bytes/min cutoff; 0 == disabled
	DeliverTolerance       time.Duration // blocking-detector horizon; >=1s
	Tempo                  int64         // outbound bytes/sec cap; -1 == uncapped
	SerializationMethod    int           // 0..2, see codec.ForMethod
	FileRootDir            string        // base dir for inbound files
	DeliveryThreadUsage    DeliveryMode

	// Compression selects optional lz4 payload compression for OBJECT
	// sends (supplement beyond the distilled spec; mirrors the
	// teacher's Extra.Compression field - see SPEC_FULL.md §2/§11).
	Compression string
}

const (
	CompressionNever  = "never"
	CompressionAlways = "always"
	CompressionRatio  = "ratio"

	minParcelSize = 1 * cos.KiB
	maxParcelSize = 256 * cos.KiB

	minAlivePeriod = 5 * time.Second
	maxAlivePeriod = 10 * time.Minute

	minConfirmTimeout  = 1 * time.Second
	minIdleCheckPeriod = 5 * time.Second
	minDeliverTol      = 1 * time.Second

	minMaxSerSize = 10 * cos.KiB

	maxObjectQueueCapacity = 10000
)

// DefaultParams returns a fresh copy of the factory-default parameter
// record. It is a function rather than a package var so callers can't
// accidentally mutate the shared defaults (spec §9's "global mutable
// state ... never torn down ... reset() restores factory defaults").
func DefaultParams() Params {
	return Params{
		TransmissionParcelSize: 64 * cos.KiB,
		ObjectQueueCapacity:    200,
		ParcelQueueCapacity:    600,
		MaxSerializationSize:   100 * cos.MiB,
		AlivePeriod:            0,
		ConfirmTimeout:         30 * time.Second,
		IdleCheckPeriod:        60 * time.Second,
		IdleThreshold:          0,
		DeliverTolerance:       10 * time.Second,
		Tempo:                  -1,
		SerializationMethod:    0,
		DeliveryThreadUsage:    DeliveryGlobal,
		Compression:            CompressionNever,
	}
}

// Validate enforces spec §6's bounds table. Violations are Configuration
// errors (§7), raised synchronously, never on the wire.
func (p *Params) Validate() error {
	if p.TransmissionParcelSize < minParcelSize || p.TransmissionParcelSize > maxParcelSize {
		return newConfigErr("transmission-parcel-size %d out of [%d, %d]", p.TransmissionParcelSize, minParcelSize, maxParcelSize)
	}
	if p.ObjectQueueCapacity <= 0 || p.ObjectQueueCapacity > maxObjectQueueCapacity {
		return newConfigErr("object-queue-capacity %d out of (0, %d]", p.ObjectQueueCapacity, maxObjectQueueCapacity)
	}
	if p.ParcelQueueCapacity <= 0 {
		return newConfigErr("parcel-queue-capacity %d must be positive", p.ParcelQueueCapacity)
	}
	if p.MaxSerializationSize < minMaxSerSize {
		return newConfigErr("max-serialization-size %d below minimum %d", p.MaxSerializationSize, minMaxSerSize)
	}
	if p.AlivePeriod != 0 && (p.AlivePeriod < minAlivePeriod || p.AlivePeriod > maxAlivePeriod) {
		return newConfigErr("alive-period %s out of [%s, %s]", p.AlivePeriod, minAlivePeriod, maxAlivePeriod)
	}
	if p.ConfirmTimeout < minConfirmTimeout {
		return newConfigErr("confirm-timeout %s below minimum %s", p.ConfirmTimeout, minConfirmTimeout)
	}
	if p.IdleCheckPeriod < minIdleCheckPeriod {
		return newConfigErr("idle-check-period %s below minimum %s", p.IdleCheckPeriod, minIdleCheckPeriod)
	}
	if p.DeliverTolerance < minDeliverTol {
		return newConfigErr("deliver-tolerance %s below minimum %s", p.DeliverTolerance, minDeliverTol)
	}
	if p.Tempo != -1 && p.Tempo <= 0 {
		return newConfigErr("tempo must be -1 or > 0, got %d", p.Tempo)
	}
	if p.SerializationMethod < 0 || p.SerializationMethod > 2 {
		return newConfigErr("serialization-method %d out of [0, 2]", p.SerializationMethod)
	}
	switch p.Compression {
	case "", CompressionNever, CompressionAlways, CompressionRatio:
	default:
		return newConfigErr("compression %q not one of never/always/ratio", p.Compression)
	}
	return nil
}

func newConfigErr(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

var (
	defaultsMu sync.Mutex
	current    = DefaultParams()
)

// CurrentDefaults returns the process-wide default Params, as they
// stand after any prior Reset.
func CurrentDefaults() Params {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	return current
}

// Reset restores the process-wide defaults to factory settings. Intended
// for test isolation between scenarios (spec §9).
func Reset() {
	defaultsMu.Lock()
	current = DefaultParams()
	defaultsMu.Unlock()
}
