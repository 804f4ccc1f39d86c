// Connection handshake, spec §4.7/§6: a fixed 16-byte identifier
// (distinct per role, to detect client-to-client or server-to-server
// mis-plugs), followed by a 20-byte CONNECTION_CONFIRM carrying the
// requested ALIVE period.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"
)

// Role distinguishes which side of the TCP connect a process plays;
// the handshake constants differ by role so a peer can detect it
// accidentally dialed another dialer (or was dialed by another
// acceptor).
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

const (
	sizeHandshake    = 16
	sizeConfirm      = 20
	handshakeTimeout = 10 * time.Second
)

// clientMagic/serverMagic are the two fixed, mutually distinct 16-byte
// constants spec §6 calls for. Fixed for this protocol version.
var (
	clientMagic = [sizeHandshake]byte{
		'n', 'x', 'c', 'o', 'n', 'n', '-', 'c', 'l', 'i', '-', 'v', '0', '0', '0', '1',
	}
	serverMagic = [sizeHandshake]byte{
		'n', 'x', 'c', 'o', 'n', 'n', '-', 's', 'r', 'v', '-', 'v', '0', '0', '0', '1',
	}
)

func magicFor(r Role) [sizeHandshake]byte {
	if r == RoleServer {
		return serverMagic
	}
	return clientMagic
}

func peerMagicFor(r Role) [sizeHandshake]byte {
	if r == RoleServer {
		return clientMagic
	}
	return serverMagic
}

// doHandshake performs the mutual 16-byte exchange followed by the
// 20-byte CONNECTION_CONFIRM, returning the peer's requested ALIVE
// period. Each write runs on its own goroutine beside the matching read,
// since on an unbuffered conn (net.Pipe) a write returns only once the
// peer has read it. Every failure, a timeout or EOF included, comes back
// as an ErrProtocol error; timeouts and rejections are not told apart.
func doHandshake(conn net.Conn, r *bufio.Reader, role Role, alivePeriod time.Duration) (peerAlive time.Duration, err error) {
	_ = conn.SetDeadline(timeNow().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	mine := magicFor(role)
	werr := make(chan error, 1)
	go func() { _, e := conn.Write(mine[:]); werr <- e }()

	peerBuf := make([]byte, sizeHandshake)
	if _, err = io.ReadFull(r, peerBuf); err != nil {
		return 0, newProtoErr("handshake read failed (connection rejected/timed out): %v", err)
	}
	if err = <-werr; err != nil {
		return 0, newProtoErr("handshake write failed: %v", err)
	}
	want := peerMagicFor(role)
	for i := range want {
		if peerBuf[i] != want[i] {
			return 0, newProtoErr("handshake mismatch: unexpected peer role or protocol version")
		}
	}

	// CONNECTION_CONFIRM: 16-byte fixed prefix (reuse our own magic) +
	// big-endian int32 alive-period request, in milliseconds.
	confirm := make([]byte, sizeConfirm)
	copy(confirm, mine[:])
	binary.BigEndian.PutUint32(confirm[sizeHandshake:], uint32(alivePeriod/time.Millisecond))
	go func() { _, e := conn.Write(confirm); werr <- e }()

	peerConfirm := make([]byte, sizeConfirm)
	if _, err = io.ReadFull(r, peerConfirm); err != nil {
		return 0, newProtoErr("confirm read failed (connection rejected/timed out): %v", err)
	}
	if err = <-werr; err != nil {
		return 0, newProtoErr("confirm write failed: %v", err)
	}
	peerAliveMS := binary.BigEndian.Uint32(peerConfirm[sizeHandshake:])
	return time.Duration(peerAliveMS) * time.Millisecond, nil
}

// timeNow is indirected so handshake timeouts remain mockable in tests
// without touching the package's general "no wall-clock in hot paths"
// discipline elsewhere.
var timeNow = time.Now
