// Receive dispatcher, spec §4.3: one worker reads parcels off the
// socket, validates them, and routes to the matching aggregator
// (creating one on a header parcel, failing fast on reuse/out-of-sync
// parcels) or to the signal subsystem.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"io"

	"github.com/nxconn/nxconn/cmn/nlog"
)

func (c *Connection) recvLoop() {
	loghdr := "recv[" + c.localID + "]"
	for {
		if c.isTerminal() {
			return
		}
		p, err := readParcel(c.reader, c.params.TransmissionParcelSize+maxHeaderOverhead, loghdr)
		if err != nil {
			if err == io.EOF {
				c.handleRemoteEOF()
				return
			}
			if c.isTerminal() {
				return
			}
			nlog.Errorf("%s: %v", loghdr, err)
			c.closeWithCause(CauseProtocol)
			return
		}
		c.touchRecv(sizeFrameHdr + len(p.Payload))
		observeRecv(p.Channel, p.Priority)
		c.dispatch(p)
	}
}

// maxHeaderOverhead bounds how much bigger than TransmissionParcelSize a
// header-carrying first parcel may legitimately be.
const maxHeaderOverhead = 4 * 1024

func (c *Connection) dispatch(p *parcel) {
	if p.Channel == SignalChannel {
		c.handleSignalParcel(p)
		return
	}
	if p.SeqNo == 0 {
		c.createAggregator(p)
		return
	}
	c.feedAggregator(p)
}

func (c *Connection) createAggregator(p *parcel) {
	if p.Channel == ObjChannel {
		c.aggMu.Lock()
		if _, exists := c.objAggs[p.ObjectID]; exists {
			c.aggMu.Unlock()
			nlog.Warningf("recv: header for already-open object %d: protocol violation", p.ObjectID)
			c.sendSignal(sigFail(p.ObjectID, InfoObjLocalError, "duplicate header"))
			return
		}
		c.aggMu.Unlock()
	} else {
		c.aggMu.Lock()
		if _, exists := c.fileAggs[p.ObjectID]; exists {
			c.aggMu.Unlock()
			nlog.Warningf("recv: header for already-open file %d: protocol violation", p.ObjectID)
			c.sendSignal(sigFail(p.ObjectID, InfoObjLocalError, "duplicate header"))
			return
		}
		c.aggMu.Unlock()
	}

	h, consumed, err := decodeHeader(p.Payload)
	if err != nil {
		nlog.Errorf("recv: bad header on object %d: %v", p.ObjectID, err)
		c.sendSignal(sigFail(p.ObjectID, InfoObjLocalError, err.Error()))
		return
	}
	rest := p.Payload[consumed:]

	if p.Channel == ObjChannel {
		agg, err := newObjAggregator(c, h)
		if err != nil {
			c.sendSignal(sigFail(p.ObjectID, InfoObjLocalError, err.Error()))
			return
		}
		c.aggMu.Lock()
		c.objAggs[p.ObjectID] = agg
		c.aggMu.Unlock()
		c.feedObjBytes(agg, p.SeqNo, rest)
		return
	}

	agg, err := newFileAggregator(c, h)
	if err != nil {
		// newFileAggregator already sent the appropriate FAIL/event.
		return
	}
	c.aggMu.Lock()
	c.fileAggs[p.ObjectID] = agg
	c.aggMu.Unlock()
	c.feedFileBytes(agg, p.SeqNo, rest)
}

func (c *Connection) feedAggregator(p *parcel) {
	if p.Channel == ObjChannel {
		c.aggMu.Lock()
		agg, ok := c.objAggs[p.ObjectID]
		c.aggMu.Unlock()
		if !ok {
			if c.isRetired(p.ObjectID) {
				nlog.Warningf("recv: parcel for retired object %d, dropping", p.ObjectID)
			} else {
				nlog.Warningf("recv: parcel for unknown object %d (seq %d), sending FAIL", p.ObjectID, p.SeqNo)
				c.sendSignal(sigFail(p.ObjectID, InfoObjLocalError, "unknown object-id"))
			}
			return
		}
		c.feedObjBytes(agg, p.SeqNo, p.Payload)
		return
	}

	c.aggMu.Lock()
	agg, ok := c.fileAggs[p.ObjectID]
	c.aggMu.Unlock()
	if !ok {
		if c.isRetired(p.ObjectID) {
			nlog.Warningf("recv: parcel for retired file %d, dropping", p.ObjectID)
		} else {
			nlog.Warningf("recv: parcel for unknown file %d (seq %d), sending FAIL", p.ObjectID, p.SeqNo)
			c.sendSignal(sigFail(p.ObjectID, InfoLocalAssignmentError, "unknown file id"))
		}
		return
	}
	c.feedFileBytes(agg, p.SeqNo, p.Payload)
}

func (c *Connection) retireObject(id uint64) {
	c.markRetired(id)
	c.aggMu.Lock()
	delete(c.objAggs, id)
	c.aggMu.Unlock()
}

func (c *Connection) retireFile(id uint64) {
	c.markRetired(id)
	c.aggMu.Lock()
	delete(c.fileAggs, id)
	c.aggMu.Unlock()
}

func (c *Connection) handleRemoteEOF() {
	if c.State() == StateShutdown {
		// peer closed its write half after finishing an orderly drain;
		// lifecycle.go's shutdown wait will observe this via CLOSED signal
		// or the connection-level timeout.
		return
	}
	nlog.Warningf("%s: remote EOF outside SHUTDOWN", c.localID)
	c.closeWithCause(CauseIrregularSocket)
}
