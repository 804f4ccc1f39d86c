// Lifecycle controller, spec §4.7: handshake, the two-phase graceful
// SHUTDOWN, and the UNCONNECTED -> CONNECTED -> SHUTDOWN -> CLOSED state
// machine (with any irregular cause skipping straight from CONNECTED to
// CLOSED).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nxconn/nxconn/cmn/nlog"
	"github.com/nxconn/nxconn/hk"
)

// shutdownTimeout bounds step 4 of the graceful shutdown: how long a
// side waits for its peer's "all-data-sent" marker before closing
// anyway with CauseShutdownTimeout (spec §4.7 step 5).
const shutdownTimeout = 30 * time.Second

// hkStart starts hk.DefaultHK the first time a Connection is
// bootstrapped; the per-connection timers registered there fire only
// while it runs.
var hkStart sync.Once

// Dial opens a TCP connection to addr, performs the client-side
// handshake, and brings the Connection to CONNECTED.
func Dial(addr string, p Params) (*Connection, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, newEnvErr(err, "dial %s", addr)
	}
	return bootstrap(nc, RoleClient, p)
}

// DialConn is Dial's sibling for a caller that already owns the
// net.Conn (e.g. having exchanged an out-of-band bearer token on it
// before handing it to transport; see cmd/parcelcli).
func DialConn(nc net.Conn, p Params) (*Connection, error) {
	return bootstrap(nc, RoleClient, p)
}

// Accept wraps an already-accepted net.Conn (the server-side acceptor
// loop is an external collaborator per spec §1; this is the seam it
// hands sockets through) and performs the server-side handshake.
func Accept(nc net.Conn, p Params) (*Connection, error) {
	return bootstrap(nc, RoleServer, p)
}

func bootstrap(nc net.Conn, role Role, p Params) (*Connection, error) {
	c, err := newConnection(nc, role, p)
	if err != nil {
		nc.Close()
		return nil, err
	}

	if p.FileRootDir != "" {
		sweepOrphanTemps(p.FileRootDir)
	}

	peerAlive, err := doHandshake(nc, c.reader, role, p.AlivePeriod)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.peerAlive.Store(int64(peerAlive))

	c.delivery = newDelivery(c, p.DeliveryThreadUsage)
	c.setState(StateConnected)

	eg, egCtx := errgroup.WithContext(context.Background())
	c.eg, c.egCtx = eg, egCtx
	eg.Go(func() error { c.sendLoop(); return nil })
	eg.Go(func() error { c.recvLoop(); return nil })

	hkStart.Do(func() { go hk.DefaultHK.Run() })
	c.startAliveTimers()
	c.startConfirmWatchdog()
	if p.DeliveryThreadUsage == DeliveryGlobal {
		c.delivery.registerBlockingDetector("deliver-detector-"+c.localID, func() (bool, int64) {
			return true, int64(c.params.DeliverTolerance)
		})
	}

	c.fireEvent(Event{Kind: EvtConnected})
	return c, nil
}

// Close performs the regular, two-phase graceful shutdown: refuse new
// sends, drain what's in flight, exchange "all data sent" markers, then
// transition to CLOSED (spec §4.7).
func (c *Connection) Close() error {
	if !c.casState(StateConnected, StateShutdown) {
		return nil // already shutting down or closed
	}
	c.localInitiated.Store(true)
	c.fireEvent(Event{Kind: EvtShutdown})
	c.sendSignal(sigShutdown(0, ""))
	go c.drainAndFinishShutdown()
	return nil
}

// HardClose closes immediately without draining (spec §6, cause 10).
func (c *Connection) HardClose() error {
	c.closeWithCause(CauseHardClose)
	return nil
}

// onPeerShutdown handles an incoming SHUTDOWN signal (spec §4.7):
// brings this side into SHUTDOWN too (refusing new sends) unless it
// already initiated its own Close().
func (c *Connection) onPeerShutdown(_ signal) {
	if c.casState(StateConnected, StateShutdown) {
		c.fireEvent(Event{Kind: EvtShutdown})
		go c.drainAndFinishShutdown()
	}
}

// onPeerClosed handles the peer's CLOSED signal - spec §4.7's
// "all-data-sent" marker, not the final CLOSED lifecycle event.
func (c *Connection) onPeerClosed(_ signal) {
	c.remoteClosedOnce.Do(func() { close(c.remoteClosedCh) })
}

// drainAndFinishShutdown implements spec §4.7 steps 2-5: wait for
// in-flight sends to drain, announce local completion, wait (bounded)
// for the peer's, then transition to CLOSED.
func (c *Connection) drainAndFinishShutdown() {
	for len(c.sendQ) > 0 || c.pq.len() > 0 {
		if c.isTerminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.sendSignal(sigClosed(0, ""))
	// closing the socket below must not drop the marker: wait until the
	// send worker has taken it off the parcel queue, then for any write
	// in progress under writeMu to finish
	for c.pq.len() > 0 {
		if c.isTerminal() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	c.writeMu.Lock()
	c.writeMu.Unlock()
	c.localAllSent.Store(true)

	select {
	case <-c.remoteClosedCh:
		if c.localInitiated.Load() {
			c.closeWithCause(CauseLocalClose)
		} else {
			c.closeWithCause(CauseRemoteClose)
		}
	case <-time.After(shutdownTimeout):
		c.closeWithCause(CauseShutdownTimeout)
	case <-c.stopCh.Listen():
	}
}

// closeWithCause performs the irreversible CLOSED transition exactly
// once: stops timers, interrupts blocked workers, closes the socket,
// fires the CLOSED event, and aborts any file receptions still open
// (spec invariant: a connection never emits application events after
// emitting CLOSED, and "closing a connection causes all in-flight file
// temp files to be deleted").
func (c *Connection) closeWithCause(cause CloseCause) {
	c.closeOnce.Do(func() {
		c.term.Store(true)
		c.stopCh.Close()
		c.closeCause.Store(int32(cause))

		c.stopAliveTimers()
		c.stopConfirmWatchdog()

		_ = c.netConn.Close() // unblocks any in-progress socket read/write
		c.abortAllFiles()
		c.setState(StateClosed)

		if c.eg != nil {
			// closeWithCause can itself run on the send or receive
			// worker's own goroutine (a socket error calls it inline),
			// so waiting here would self-deadlock; a detached waiter
			// just confirms both have actually unwound.
			go func() {
				if err := c.eg.Wait(); err != nil {
					nlog.Warningf("%s: worker exited with error: %v", c.localID, err)
				}
			}()
		}

		if cause == CauseAliveTimeout {
			aliveMisses.Inc()
		}

		c.fireEvent(Event{Kind: EvtClosed, Code: int(cause)})
		nlog.Infof("%s: closed, cause=%d", c.localID, cause)

		if c.delivery != nil {
			c.delivery.stop()
		}
	})
}

// abortAllFiles tears down every file reception still open when the
// connection closes (spec §8 invariant 6).
func (c *Connection) abortAllFiles() {
	c.aggMu.Lock()
	aggs := make([]*fileAggregator, 0, len(c.fileAggs))
	for _, a := range c.fileAggs {
		aggs = append(aggs, a)
	}
	c.aggMu.Unlock()
	for _, a := range aggs {
		c.abortFile(a, InfoLocalCloseBreakIn, "connection closed", false)
	}
}

func (c *Connection) CloseCause() CloseCause { return CloseCause(c.closeCause.Load()) }
