// Test helper pairing two in-process Connections over a net.Pipe,
// grounded on the teacher's own pattern of exercising a stream without
// a real socket (stream_bundle_test.go's use of fake destinations).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"net"
	"testing"
	"time"

	"github.com/nxconn/nxconn/transport"
)

// pipePair bootstraps a client Connection and a server Connection over
// an in-memory net.Pipe, running both handshakes concurrently (each
// blocks on the other's half of the exchange).
func pipePair(t *testing.T, cp, sp transport.Params) (*transport.Connection, *transport.Connection) {
	t.Helper()
	c1, c2 := net.Pipe()

	var (
		client, server *transport.Connection
		cerr, serr     error
		done           = make(chan struct{}, 2)
	)
	go func() {
		client, cerr = transport.DialConn(c1, cp)
		done <- struct{}{}
	}()
	go func() {
		server, serr = transport.Accept(c2, sp)
		done <- struct{}{}
	}()
	<-done
	<-done
	if cerr != nil {
		t.Fatalf("client bootstrap: %v", cerr)
	}
	if serr != nil {
		t.Fatalf("server bootstrap: %v", serr)
	}
	return client, server
}

func defaultTestParams() transport.Params {
	p := transport.DefaultParams()
	p.TransmissionParcelSize = 4 * 1024
	return p
}

// eventCollector is a transport.Listener recording every delivered
// event in arrival order, safe for a test goroutine to poll.
type eventCollector struct {
	ch chan transport.Event
}

func newEventCollector() *eventCollector {
	return &eventCollector{ch: make(chan transport.Event, 256)}
}

func (e *eventCollector) OnEvent(ev transport.Event) { e.ch <- ev }

func (e *eventCollector) waitFor(t *testing.T, kind transport.EventKind, timeout time.Duration) transport.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-e.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}
