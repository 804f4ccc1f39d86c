// Package cos provides common low-level types and utilities shared across
// this module's packages.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "sync"

// StopCh is a close-once broadcast channel: Listen() can be selected on
// by any number of goroutines, Close() wakes all of them exactly once.
// Used throughout transport for "interrupt a blocked worker without
// losing state" (spec §4.2/§5).
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func (s *StopCh) Init() { s.ch = make(chan struct{}) }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }

func (s *StopCh) IsClosed() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
