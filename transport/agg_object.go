// Object aggregator, spec §4.4: reassembles OBJECT-channel parcels into
// an in-memory buffer, then deserializes via the connection's codec and
// delivers OBJECT_RECEIVED.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

type objAggregator struct {
	conn       *Connection
	objectID   uint64
	priority   Priority
	method     uint8
	typeID     uint32
	compressed bool
	expSize    int64
	expParcels uint32
	nextSeq    uint32
	buf        []byte
	startNS    int64
}

func newObjAggregator(c *Connection, h *objHeader) (*objAggregator, error) {
	if h.Size != SizeUnknown && h.Size > c.params.MaxSerializationSize {
		return nil, newProtoErr("object %d header size %d exceeds max-serialization-size %d",
			h.ObjectID, h.Size, c.params.MaxSerializationSize)
	}
	bufCap := h.Size
	if bufCap == SizeUnknown || bufCap < 0 {
		bufCap = 0
	}
	return &objAggregator{
		conn:       c,
		objectID:   h.ObjectID,
		priority:   h.Priority,
		method:     h.Method,
		typeID:     h.TypeID,
		compressed: h.Compressed,
		expSize:    h.Size,
		expParcels: h.ParcelCnt,
		buf:        make([]byte, 0, bufCap),
		startNS:    nowNS(),
	}, nil
}

// feedObjBytes appends a data chunk to agg (the first call, from the
// header parcel, carries whatever payload followed the header in the
// same parcel - possibly zero bytes). seq must equal agg.nextSeq (spec
// §3's aggregator invariant: strictly monotonic, starting at 0); any
// gap, duplicate, or reorder aborts the transfer as ParcelOutOfSync.
func (c *Connection) feedObjBytes(agg *objAggregator, seq uint32, b []byte) {
	if seq != agg.nextSeq {
		c.abortObject(agg, InfoObjParcelOutOfSync, "parcel out of sync")
		return
	}
	if len(b) > 0 {
		if agg.expSize != SizeUnknown && int64(len(agg.buf)+len(b)) > c.params.MaxSerializationSize {
			c.abortObject(agg, InfoObjLocalError, "payload exceeds max-serialization-size")
			return
		}
		agg.buf = append(agg.buf, b...)
	}
	agg.nextSeq++
	if agg.expParcels > 0 && agg.nextSeq >= agg.expParcels {
		c.finishObject(agg)
	}
}

func (c *Connection) finishObject(agg *objAggregator) {
	c.retireObject(agg.objectID)

	payload := agg.buf
	if agg.compressed {
		raw, err := lz4Decompress(payload)
		if err != nil {
			c.abortObject(agg, InfoObjDeserializationFailed, "decompress: "+err.Error())
			return
		}
		payload = raw
	}

	v, err := c.codec.Decode(agg.typeID, payload)
	if err != nil {
		observeAggregatorAbort("deserialization")
		c.sendSignal(sigFail(agg.objectID, InfoObjDeserializationFailed, err.Error()))
		c.fireEvent(Event{Kind: EvtObjectAborted, ObjectID: agg.objectID, Priority: agg.priority,
			Code: InfoObjDeserializationFailed, Err: err})
		return
	}

	c.fireEvent(Event{Kind: EvtObjectReceived, ObjectID: agg.objectID, Priority: agg.priority, Value: v})
}

func (c *Connection) abortObject(agg *objAggregator, info int32, reason string) {
	c.retireObject(agg.objectID)
	observeAggregatorAbort("object")
	c.sendSignal(sigFail(agg.objectID, info, reason))
	c.fireEvent(Event{Kind: EvtObjectAborted, ObjectID: agg.objectID, Priority: agg.priority, Code: int(info)})
}
