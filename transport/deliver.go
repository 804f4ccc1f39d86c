// Event delivery, spec §4.6: listeners are invoked from a dedicated
// delivery worker, never from an I/O worker directly, so a slow
// listener cannot stall the socket. Two delivery models per
// Params.DeliveryThreadUsage: GLOBAL (one worker shared by every
// connection in the process) and INDIVIDUAL (one worker per
// connection). The optional blocking-output detector migrates a
// connection from the global worker to a dedicated one when the global
// worker's progress has stalled beyond DeliverTolerance.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"sync"
	"time"

	"github.com/nxconn/nxconn/cmn/atomic"
	"github.com/nxconn/nxconn/cmn/cos"
	"github.com/nxconn/nxconn/cmn/mono"
	"github.com/nxconn/nxconn/hk"
)

const globalQueueCapacity = 4096

type globalItem struct {
	d  *delivery
	ev Event
}

type globalDeliverer struct {
	once sync.Once
	ch   chan globalItem
	last atomic.Int64 // mono timestamp of last item processed, for the stall detector
}

var gDeliverer = &globalDeliverer{ch: make(chan globalItem, globalQueueCapacity)}

func (g *globalDeliverer) start() {
	g.once.Do(func() {
		go g.run()
	})
}

func (g *globalDeliverer) run() {
	for item := range g.ch {
		g.last.Store(mono.NanoTime())
		// the target may have been migrated to an individual worker
		// while its item sat in this shared queue; forward rather than
		// deliver directly so migration is never lossy.
		if item.d.isIndividual() {
			item.d.localCh <- item.ev
			continue
		}
		item.d.conn.invokeListeners(item.ev)
	}
}

// delivery is the per-connection delivery-worker handle.
type delivery struct {
	conn *Connection

	mu      sync.Mutex
	mode    DeliveryMode
	localCh chan Event
	stopCh  cos.StopCh

	blockedSince atomic.Int64 // mono timestamp; 0 == not currently blocked
}

func newDelivery(conn *Connection, mode DeliveryMode) *delivery {
	d := &delivery{conn: conn, mode: mode}
	d.stopCh.Init()
	if mode == DeliveryIndividual {
		d.startIndividual()
	} else {
		gDeliverer.start()
	}
	return d
}

func (d *delivery) isIndividual() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == DeliveryIndividual
}

func (d *delivery) startIndividual() {
	d.localCh = make(chan Event, d.conn.params.ParcelQueueCapacity)
	go func() {
		for {
			select {
			case ev := <-d.localCh:
				d.conn.invokeListeners(ev)
			case <-d.stopCh.Listen():
				// stop() closes stopCh right after enqueueing the
				// terminal EvtClosed; drain whatever is still buffered
				// rather than exit out from under it; a listener must
				// see CLOSED (spec §8 invariant 5's close-cause checks
				// depend on it actually arriving).
				for {
					select {
					case ev := <-d.localCh:
						d.conn.invokeListeners(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// migrateToIndividual switches this connection from the global worker
// to a dedicated one (spec §4.6's blocking-output migration).
func (d *delivery) migrateToIndividual() {
	d.mu.Lock()
	if d.mode == DeliveryIndividual {
		d.mu.Unlock()
		return
	}
	d.mode = DeliveryIndividual
	d.mu.Unlock()
	d.startIndividual()
}

// deliver enqueues ev for this connection's listeners.
func (d *delivery) deliver(ev Event) {
	if d.isIndividual() {
		d.localCh <- ev
		return
	}
	select {
	case gDeliverer.ch <- globalItem{d, ev}:
	default:
		d.blockedSince.Store(mono.NanoTime())
		gDeliverer.ch <- globalItem{d, ev}
		d.blockedSince.Store(0)
	}
}

func (d *delivery) stop() { d.stopCh.Close() }

// registerBlockingDetector wires the hk-driven periodic check described
// in spec §4.6: sample this connection's blocked-since timestamp and
// migrate it off the global worker if it has waited beyond
// DeliverTolerance.
func (d *delivery) registerBlockingDetector(name string, tolerance func() (enabled bool, horizon int64)) {
	hk.Reg(name, func() time.Duration {
		enabled, horizonNS := tolerance()
		if !enabled {
			return d.conn.params.DeliverTolerance
		}
		since := d.blockedSince.Load()
		if since != 0 && mono.NanoTime()-since > horizonNS {
			d.migrateToIndividual()
		}
		return d.conn.params.DeliverTolerance
	}, d.conn.params.DeliverTolerance)
}
