// Incoming signal handling, spec §4.5: dispatch a decoded signal parcel
// to the lifecycle/alive/aggregator logic it drives.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/nxconn/nxconn/cmn/nlog"
)

func (c *Connection) handleSignalParcel(p *parcel) {
	sig, err := decodeSignal(p)
	if err != nil {
		nlog.Warningf("%s: bad signal parcel: %v", c.localID, err)
		return
	}
	switch sig.Type {
	case SigAlive:
		// no-op beyond the touchRecv already done by recvLoop: receipt
		// alone resets the ALIVE watchdog.
	case SigAliveRequest:
		c.peerAlive.Store(int64(sig.Info) * int64(time.Millisecond))
		c.sendSignal(sigAliveConfirm(sig.Info))
	case SigAliveConfirm:
		c.peerAlive.Store(int64(sig.Info) * int64(time.Millisecond))
	case SigTempo:
		if sig.Info == -1 || sig.Info > 0 {
			c.tempoOverride.Store(int64(sig.Info))
		}
	case SigConfirm:
		c.completeOutFile(sig.ObjectID, nil)
	case SigFail:
		if !c.completeOutFile(sig.ObjectID, &Error{Kind: ErrRemoteInduced, Msg: sig.Text}) {
			c.abortObjectByID(sig.ObjectID, int(sig.Info))
		}
	case SigBreak:
		if !c.completeOutFile(sig.ObjectID, &Error{Kind: ErrRemoteInduced, Msg: "peer BREAK: " + sig.Text}) {
			c.abortObjectByID(sig.ObjectID, int(sig.Info))
		}
	case SigPing:
		c.sendSignal(sigEcho(sig.Info))
	case SigEcho:
		// round-trip measurement point; surfaced via metrics rather than
		// an application event (spec §4.5 doesn't name a listener event
		// for PING/ECHO).
	case SigShutdown:
		c.onPeerShutdown(sig)
	case SigClosed:
		c.onPeerClosed(sig)
	default:
		nlog.Warningf("%s: unknown signal type %d", c.localID, sig.Type)
	}
}

// completeOutFile resolves a previously registered outbound FILE send
// (spec §4.5's CONFIRM / remote-induced FAIL/BREAK). A nil err means
// the peer confirmed receipt; non-nil fires EvtFileAborted locally.
// Reports whether objectID was in fact one of our outbound files, so a
// FAIL/BREAK for an OBJECT send's id doesn't get mistaken for one and
// silently dropped here without also reaching abortObjectByID.
func (c *Connection) completeOutFile(objectID uint64, err error) bool {
	c.outMu.Lock()
	out, ok := c.outFiles[objectID]
	if ok {
		delete(c.outFiles, objectID)
	}
	c.outMu.Unlock()
	if !ok {
		return false
	}
	if err != nil {
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: objectID, Priority: out.priority, Err: err})
	}
	return true
}

// abortObjectByID surfaces a remote-induced FAIL/BREAK against an
// object we sent (OBJECT sends have no ack, so this only fires a
// listener event; there is nothing left in flight to cancel).
func (c *Connection) abortObjectByID(objectID uint64, info int) {
	c.fireEvent(Event{Kind: EvtObjectAborted, ObjectID: objectID, Code: info})
}
