// Package hk provides a mechanism for registering periodic callbacks
// ("house-keeping" tasks) invoked at per-task intervals from a single
// background goroutine. transport uses it for the three timers spec
// §4.5/§4.6 call for: the ALIVE beacon/watchdog, the idle-bytes sampler,
// and the blocking-output detector - generalized from the teacher's
// transport/collect.go min-heap "stream collector" (which only ever
// scheduled one kind of task: per-stream idle teardown).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nxconn/nxconn/cmn/cos"
	"github.com/nxconn/nxconn/cmn/debug"
	"github.com/nxconn/nxconn/cmn/nlog"
)

const minInterval = 10 * time.Millisecond

type (
	// CleanupFunc runs once per fire and returns the interval until its
	// next run; returning <= 0 unregisters it.
	CleanupFunc func() time.Duration

	request struct {
		name string
		f    CleanupFunc
		due  time.Time
		idx  int
	}

	hkq []*request

	Housekeeper struct {
		mu       sync.Mutex
		q        hkq
		byName   map[string]*request
		ctrlCh   chan ctrl
		stopCh   cos.StopCh
		started  atomicBool
	}

	ctrl struct {
		add bool
		req *request
		del string
	}

	atomicBool struct {
		mu sync.Mutex
		v  bool
	}
)

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

// DefaultHK is the process-wide housekeeper; transport registers its
// per-connection timers here rather than spinning up a goroutine per
// timer per connection.
var DefaultHK = New()

func New() *Housekeeper {
	hk := &Housekeeper{
		byName: make(map[string]*request, 16),
		ctrlCh: make(chan ctrl, 64),
	}
	hk.stopCh.Init()
	heap.Init(&hk.q)
	return hk
}

// Reg registers a named callback to first fire after initial, then
// again after whatever interval the callback itself returns. Re-
// registering an existing name replaces it.
func (hk *Housekeeper) Reg(name string, f CleanupFunc, initial time.Duration) {
	if initial < minInterval {
		initial = minInterval
	}
	req := &request{name: name, f: f, due: time.Now().Add(initial)}
	hk.ctrlCh <- ctrl{add: true, req: req}
}

// Unreg cancels a previously registered callback; a no-op if unknown.
func (hk *Housekeeper) Unreg(name string) {
	hk.ctrlCh <- ctrl{add: false, del: name}
}

func (hk *Housekeeper) Run() error {
	hk.started.set(true)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		hk.mu.Lock()
		var wait time.Duration = time.Hour
		if len(hk.q) > 0 {
			wait = time.Until(hk.q[0].due)
			if wait < 0 {
				wait = 0
			}
		}
		hk.mu.Unlock()
		timer.Reset(wait)

		select {
		case <-timer.C:
			hk.fireDue()
		case c := <-hk.ctrlCh:
			hk.apply(c)
		case <-hk.stopCh.Listen():
			return nil
		}
	}
}

func (hk *Housekeeper) apply(c ctrl) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if c.add {
		if old, ok := hk.byName[c.req.name]; ok {
			heap.Remove(&hk.q, old.idx)
		}
		hk.byName[c.req.name] = c.req
		heap.Push(&hk.q, c.req)
		return
	}
	if old, ok := hk.byName[c.del]; ok {
		heap.Remove(&hk.q, old.idx)
		delete(hk.byName, c.del)
	}
}

func (hk *Housekeeper) fireDue() {
	now := time.Now()
	for {
		hk.mu.Lock()
		if len(hk.q) == 0 || hk.q[0].due.After(now) {
			hk.mu.Unlock()
			break
		}
		req := heap.Pop(&hk.q).(*request)
		delete(hk.byName, req.name)
		hk.mu.Unlock()

		next := hk.call(req)
		if next > 0 {
			req.due = time.Now().Add(next)
			hk.mu.Lock()
			hk.byName[req.name] = req
			heap.Push(&hk.q, req)
			hk.mu.Unlock()
		}
	}
}

func (hk *Housekeeper) call(req *request) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: task %q panicked: %v", req.name, r)
			next = 0
		}
	}()
	return req.f()
}

func (hk *Housekeeper) Stop() { hk.stopCh.Close() }

func (hk *Housekeeper) WaitStarted() {
	for !hk.started.get() {
		time.Sleep(time.Millisecond)
	}
}

//
// package-level convenience wrapping DefaultHK, the teacher's own
// access pattern for its singleton stream collector
//

func Reg(name string, f CleanupFunc, initial time.Duration) { DefaultHK.Reg(name, f, initial) }
func Unreg(name string)                                     { DefaultHK.Unreg(name) }
func WaitStarted()                                          { DefaultHK.WaitStarted() }

// TestInit resets DefaultHK to a fresh instance, for test isolation
// (mirrors spec §9's "reset() operation restores factory defaults").
func TestInit() { DefaultHK = New() }

//
// hkq: container/heap.Interface, ordered by due time
//

func (q hkq) Len() int            { return len(q) }
func (q hkq) Less(i, j int) bool  { return q[i].due.Before(q[j].due) }
func (q hkq) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].idx, q[j].idx = i, j }
func (q *hkq) Push(x any) {
	r := x.(*request)
	r.idx = len(*q)
	*q = append(*q, r)
}
func (q *hkq) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	debug.Assert(r.idx == n-1)
	*q = old[:n-1]
	return r
}
