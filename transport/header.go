// Object header: present in the first parcel (seqno 0) of every
// object/file transmission, spec §3/§4.1. Self-delimited: fixed fields
// plus a length-prefixed string for the destination path.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"encoding/binary"
	"fmt"
)

const (
	crcPresentFlag = 1
	crcAbsentFlag  = 0
)

// objHeader carries the metadata the receive dispatcher needs to create
// an aggregator before the first data byte arrives (spec §3, "Object
// header"). ObjectID/Channel/Priority duplicate the enclosing parcel's
// frame fields so the header stands on its own for logging/tests.
type objHeader struct {
	ObjectID   uint64
	Channel    Channel
	Priority   Priority
	Method     uint8  // serialization-method code, 0..2
	Size       int64  // expected payload size; -1 == unknown (SizeUnknown)
	ParcelCnt  uint32 // expected parcel count
	Path       string // destination path, FILE only
	HasCRC     bool
	CRC32      uint32 // over the full payload, FILE only
	TypeID     uint32 // codec.Registry type-id, OBJECT only
	Compressed bool   // payload was lz4-compressed by the sender (SPEC_FULL.md §2/§11)
}

// SizeUnknown marks an object/file whose total size isn't known up
// front (e.g. a streamed reader); the send scheduler still chunks it
// into TransmissionParcelSize pieces, just without a final-parcel
// short-circuit on byte count.
const SizeUnknown int64 = -1

func encodeHeader(h *objHeader) []byte {
	pathB := []byte(h.Path)
	buf := make([]byte, 0, 8+1+1+1+8+4+2+len(pathB)+1+4)

	b8 := make([]byte, 8)
	binary.BigEndian.PutUint64(b8, h.ObjectID)
	buf = append(buf, b8...)
	buf = append(buf, byte(h.Channel), byte(h.Priority), h.Method)

	binary.BigEndian.PutUint64(b8, uint64(h.Size))
	buf = append(buf, b8...)

	b4 := make([]byte, 4)
	binary.BigEndian.PutUint32(b4, h.ParcelCnt)
	buf = append(buf, b4...)

	b2 := make([]byte, 2)
	binary.BigEndian.PutUint16(b2, uint16(len(pathB)))
	buf = append(buf, b2...)
	buf = append(buf, pathB...)

	if h.HasCRC {
		buf = append(buf, crcPresentFlag)
		binary.BigEndian.PutUint32(b4, h.CRC32)
		buf = append(buf, b4...)
	} else {
		buf = append(buf, crcAbsentFlag)
	}

	binary.BigEndian.PutUint32(b4, h.TypeID)
	buf = append(buf, b4...)
	if h.Compressed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// decodeHeader parses an objHeader prefix off b, returning the header
// and the number of bytes consumed (the remainder of b, if any, is the
// first chunk of actual payload for a header-and-data parcel).
func decodeHeader(b []byte) (*objHeader, int, error) {
	const fixedMin = 8 + 1 + 1 + 1 + 8 + 4 + 2
	if len(b) < fixedMin {
		return nil, 0, newProtoErr("object header truncated: %d bytes", len(b))
	}
	h := &objHeader{}
	off := 0
	h.ObjectID = binary.BigEndian.Uint64(b[off:])
	off += 8
	h.Channel = Channel(b[off])
	off++
	h.Priority = Priority(b[off])
	off++
	h.Method = b[off]
	off++
	h.Size = int64(binary.BigEndian.Uint64(b[off:]))
	off += 8
	h.ParcelCnt = binary.BigEndian.Uint32(b[off:])
	off += 4
	pathLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+pathLen+1 {
		return nil, 0, newProtoErr("object header truncated in path/crc section")
	}
	h.Path = string(b[off : off+pathLen])
	off += pathLen

	flag := b[off]
	off++
	switch flag {
	case crcPresentFlag:
		if len(b) < off+4 {
			return nil, 0, newProtoErr("object header truncated in crc field")
		}
		h.HasCRC = true
		h.CRC32 = binary.BigEndian.Uint32(b[off:])
		off += 4
	case crcAbsentFlag:
	default:
		return nil, 0, fmt.Errorf("object header: bad crc-presence flag %d", flag)
	}

	if len(b) < off+5 {
		return nil, 0, newProtoErr("object header truncated in type-id/compression section")
	}
	h.TypeID = binary.BigEndian.Uint32(b[off:])
	off += 4
	h.Compressed = b[off] != 0
	off++
	return h, off, nil
}
