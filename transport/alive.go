// ALIVE beacon/watchdog and idle-bytes monitor, spec §4.5: process-wide
// periodic tasks per connection, scheduled through hk rather than a
// goroutine-per-timer (see SPEC_FULL.md §6).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/nxconn/nxconn/hk"
)

// aliveWatchdogMultiple is spec §4.5's "N >= 2": the watchdog fires
// after this many missed alive-periods of silence.
const aliveWatchdogMultiple = 2

func (c *Connection) aliveBeaconName() string  { return "alive-beacon-" + c.localID }
func (c *Connection) aliveWatchdogName() string { return "alive-watchdog-" + c.localID }
func (c *Connection) idleMonitorName() string  { return "idle-monitor-" + c.localID }

// startAliveTimers registers the beacon and watchdog if AlivePeriod is
// configured, and the idle monitor unconditionally (its threshold may
// be 0, effectively disabling transitions).
func (c *Connection) startAliveTimers() {
	if c.params.AlivePeriod > 0 {
		hk.Reg(c.aliveBeaconName(), c.fireAliveBeacon, c.params.AlivePeriod)
		hk.Reg(c.aliveWatchdogName(), c.checkAliveWatchdog, c.params.AlivePeriod)
	}
	hk.Reg(c.idleMonitorName(), c.sampleIdle, c.params.IdleCheckPeriod)
}

func (c *Connection) stopAliveTimers() {
	hk.Unreg(c.aliveBeaconName())
	hk.Unreg(c.aliveWatchdogName())
	hk.Unreg(c.idleMonitorName())
}

// fireAliveBeacon sends an unsolicited ALIVE if nothing has gone out on
// this connection for at least AlivePeriod (spec §4.5).
func (c *Connection) fireAliveBeacon() time.Duration {
	if c.isTerminal() {
		return 0
	}
	sinceSend := time.Duration(nowNS()-c.lastSendNS.Load()) * time.Nanosecond
	if sinceSend >= c.params.AlivePeriod {
		c.sendSignal(sigAlive())
	}
	return c.params.AlivePeriod
}

// checkAliveWatchdog closes the connection with CauseAliveTimeout if no
// traffic has been received for aliveWatchdogMultiple * AlivePeriod
// (spec §4.5, scenario S5).
func (c *Connection) checkAliveWatchdog() time.Duration {
	if c.isTerminal() {
		return 0
	}
	sinceRecv := time.Duration(nowNS()-c.lastRecvNS.Load()) * time.Nanosecond
	if sinceRecv >= aliveWatchdogMultiple*c.params.AlivePeriod {
		c.closeWithCause(CauseAliveTimeout)
		return 0
	}
	return c.params.AlivePeriod
}

// sampleIdle recomputes bytes/minute since the last sample and fires
// EvtIdleStateChanged on any threshold crossing.
func (c *Connection) sampleIdle() time.Duration {
	if c.isTerminal() {
		return 0
	}
	now := nowNS()
	prevBytes := c.idleLastBytes.Load()
	prevTime := c.idleLastNS.Load()
	curBytes := c.bytesTotal.Load()

	elapsed := time.Duration(now-prevTime) * time.Nanosecond
	if elapsed <= 0 {
		elapsed = c.params.IdleCheckPeriod
	}
	rateBPM := int64(float64(curBytes-prevBytes) / elapsed.Minutes())

	c.idleLastBytes.Store(curBytes)
	c.idleLastNS.Store(now)

	if c.params.IdleThreshold <= 0 {
		return c.params.IdleCheckPeriod
	}
	wasIdle := c.idle.Load()
	isIdle := rateBPM < c.params.IdleThreshold
	if isIdle != wasIdle {
		c.idle.Store(isIdle)
		c.fireEvent(Event{Kind: EvtIdleStateChanged, Idle: isIdle})
	}
	return c.params.IdleCheckPeriod
}
