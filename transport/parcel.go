// Parcel framing and resync-capable reading, spec §4.1.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/nxconn/nxconn/cmn/nlog"
)

// marker is the fixed 8-byte framing sequence every parcel begins with,
// chosen so a resync scan after a desync has a vanishingly small chance
// of a false-positive match inside arbitrary payload bytes.
var marker = [8]byte{0xA1, 0x5C, 0x0D, 0xE5, 0xFE, 0xED, 0xBE, 0x17}

const (
	sizeMarker   = 8
	sizeChanPrio = 2
	sizeObjID    = 8
	sizeSeqNo    = 4
	sizeLength   = 4
	sizeFrameHdr = sizeMarker + sizeChanPrio + sizeObjID + sizeSeqNo + sizeLength

	signalMask = 0xFFFF // low 16 bits of seqno carry the signal subtype
)

// parcel is the atomic wire unit (spec §3). The exported ParcelInfo view
// below exists only for debug logging/tests; the hot path never
// allocates one.
type parcel struct {
	Channel  Channel
	Priority Priority
	ObjectID uint64
	SeqNo    uint32
	Payload  []byte
}

// ParcelInfo is a read-only snapshot of a parcel, used only off the hot
// path (debug logging, tests).
type ParcelInfo struct {
	Channel  Channel
	Priority Priority
	ObjectID uint64
	SeqNo    uint32
	Length   int
}

func (p *parcel) Info() ParcelInfo {
	return ParcelInfo{p.Channel, p.Priority, p.ObjectID, p.SeqNo, len(p.Payload)}
}

// isHeader reports whether this parcel's sequence position is 0 and its
// channel carries an object header per spec §4.1 ("When sequence-number
// = 0 and channel != SIGNAL, the payload is prefixed by an object-header
// block").
func (p *parcel) isHeader() bool { return p.SeqNo == 0 && p.Channel != SignalChannel }

// writeParcel frames and writes one parcel. Every numeric field is
// big-endian (spec §4.1).
func writeParcel(w io.Writer, p *parcel) error {
	hdr := make([]byte, sizeFrameHdr)
	n := copy(hdr, marker[:])
	hdr[n] = byte(p.Channel)
	n++
	hdr[n] = byte(p.Priority)
	n++
	binary.BigEndian.PutUint64(hdr[n:], p.ObjectID)
	n += sizeObjID
	binary.BigEndian.PutUint32(hdr[n:], p.SeqNo)
	n += sizeSeqNo
	binary.BigEndian.PutUint32(hdr[n:], uint32(len(p.Payload)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(p.Payload) == 0 {
		return nil
	}
	_, err := w.Write(p.Payload)
	return err
}

// readParcel reads one parcel from r, resyncing on a framing mismatch by
// scanning forward for marker (spec §4.1). maxPayload bounds the
// payload-length field; exceeding it is a protocol violation that the
// caller should treat as connection-fatal.
func readParcel(r *bufio.Reader, maxPayload int, loghdr string) (*parcel, error) {
	if err := resyncToMarker(r, loghdr); err != nil {
		return nil, err
	}

	rest := make([]byte, sizeFrameHdr-sizeMarker)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	p := &parcel{
		Channel:  Channel(rest[0]),
		Priority: Priority(rest[1]),
		ObjectID: binary.BigEndian.Uint64(rest[2 : 2+sizeObjID]),
		SeqNo:    binary.BigEndian.Uint32(rest[2+sizeObjID : 2+sizeObjID+sizeSeqNo]),
	}
	length := binary.BigEndian.Uint32(rest[2+sizeObjID+sizeSeqNo:])

	if !validChannel(p.Channel) || !validPriority(p.Priority) {
		return nil, newProtoErr("%s: invalid channel/priority (%d/%d)", loghdr, p.Channel, p.Priority)
	}
	if int(length) > maxPayload {
		return nil, newProtoErr("%s: payload length %d exceeds max %d", loghdr, length, maxPayload)
	}
	if length > 0 {
		p.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// resyncToMarker consumes bytes from r until the 8-byte marker is found
// at the front of the stream, logging how many bytes were skipped. On
// the (overwhelmingly common) clean case this costs one 8-byte peek.
func resyncToMarker(r *bufio.Reader, loghdr string) error {
	buf, err := r.Peek(sizeMarker)
	if err != nil {
		return err
	}
	if matchesMarker(buf) {
		_, err := r.Discard(sizeMarker)
		return err
	}

	skipped := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		skipped++
		if b != marker[0] {
			continue
		}
		peek, err := r.Peek(sizeMarker - 1)
		if err != nil {
			return err
		}
		if matchesMarker(append([]byte{b}, peek...)) {
			if _, err := r.Discard(sizeMarker - 1); err != nil {
				return err
			}
			nlog.Warningf("%s: resynced after skipping %d bytes", loghdr, skipped)
			return nil
		}
	}
}

func matchesMarker(b []byte) bool {
	for i := range marker {
		if b[i] != marker[i] {
			return false
		}
	}
	return true
}
