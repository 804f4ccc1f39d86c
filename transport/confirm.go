// Confirm-timeout watchdog, spec §6 (Params.ConfirmTimeout: "wait for
// file CONFIRM"): an outbound FILE send whose peer never answers with
// CONFIRM or FAIL/BREAK within ConfirmTimeout is aborted locally.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/nxconn/nxconn/hk"
)

func (c *Connection) confirmWatchdogName() string { return "confirm-watchdog-" + c.localID }

func (c *Connection) startConfirmWatchdog() {
	hk.Reg(c.confirmWatchdogName(), c.checkConfirmTimeouts, c.params.ConfirmTimeout)
}

func (c *Connection) stopConfirmWatchdog() { hk.Unreg(c.confirmWatchdogName()) }

func (c *Connection) checkConfirmTimeouts() time.Duration {
	if c.isTerminal() {
		return 0
	}
	now := nowNS()
	var expired []*outFileSend

	c.outMu.Lock()
	for id, out := range c.outFiles {
		if time.Duration(now-out.sentNS) >= c.params.ConfirmTimeout {
			expired = append(expired, out)
			delete(c.outFiles, id)
		}
	}
	c.outMu.Unlock()

	for _, out := range expired {
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: out.objectID, Priority: out.priority,
			Code: InfoConfirmTimeoutOut, Err: newEnvErr(nil, "CONFIRM timeout for file %d", out.objectID)})
	}
	return c.params.ConfirmTimeout
}
