// Internal test for scenario S5 (spec §8): the ALIVE watchdog closes a
// connection after aliveWatchdogMultiple*AlivePeriod of receive
// silence. Exercises checkAliveWatchdog directly since the public API
// has no knob to force elapsed silence without a real timer wait.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_S5_AliveWatchdogTimeout(t *testing.T) {
	nc, peer := net.Pipe()
	defer peer.Close()

	p := DefaultParams()
	p.AlivePeriod = 50 * time.Millisecond
	c, err := newConnection(nc, RoleClient, p)
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	c.setState(StateConnected)

	before := testutil.ToFloat64(aliveMisses)

	// simulate aliveWatchdogMultiple*AlivePeriod of silence by
	// backdating lastRecvNS rather than sleeping in real time.
	c.lastRecvNS.Store(nowNS() - int64(3*p.AlivePeriod))

	if d := c.checkAliveWatchdog(); d != 0 {
		t.Fatalf("expected checkAliveWatchdog to stop rescheduling itself, got %v", d)
	}

	if c.State() != StateClosed {
		t.Fatalf("expected connection to be CLOSED after watchdog timeout, got %s", c.State())
	}
	if c.CloseCause() != CauseAliveTimeout {
		t.Fatalf("expected close cause CauseAliveTimeout, got %d", c.CloseCause())
	}

	after := testutil.ToFloat64(aliveMisses)
	if after != before+1 {
		t.Fatalf("expected aliveMisses to increment by 1, went %v -> %v", before, after)
	}
}

func Test_S5_AliveWatchdogNoTimeoutWhileRecent(t *testing.T) {
	nc, peer := net.Pipe()
	defer peer.Close()
	defer nc.Close()

	p := DefaultParams()
	p.AlivePeriod = 50 * time.Millisecond
	c, err := newConnection(nc, RoleClient, p)
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	c.setState(StateConnected)
	c.lastRecvNS.Store(nowNS())

	if d := c.checkAliveWatchdog(); d != p.AlivePeriod {
		t.Fatalf("expected checkAliveWatchdog to reschedule at AlivePeriod, got %v", d)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connection to remain CONNECTED, got %s", c.State())
	}
}
