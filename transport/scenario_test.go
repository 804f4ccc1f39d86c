// Scenario tests for spec §8: S1 priority preemption, S3 path-escape
// rejection, S4 graceful shutdown, S6 TEMPO cap. S2 (CRC mismatch) and
// S5 (ALIVE watchdog) need internals a black-box test can't reach and
// live in agg_file_internal_test.go/alive_internal_test.go instead.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nxconn/nxconn/transport"
)

type payload struct {
	N int `json:"n"`
}

// Test_S1 verifies that a Top-priority object queued behind a large
// Bottom-priority one is still delivered first (spec §4.2's priority
// ordering key).
func Test_S1_PriorityPreemption(t *testing.T) {
	cp, sp := defaultTestParams(), defaultTestParams()
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	col := newEventCollector()
	server.AddListener(col)

	big := make([]byte, 256*1024)
	if err := client.SendObject(big, transport.Bottom); err != nil {
		t.Fatalf("send bottom: %v", err)
	}
	// the Bottom-priority payload's parcels occupy the queue ahead of Top
	if err := client.SendObject(payload{N: 1}, transport.Top); err != nil {
		t.Fatalf("send top: %v", err)
	}

	first := col.waitFor(t, transport.EvtObjectReceived, 2*time.Second)
	v, ok := first.Value.(*payload)
	if !ok {
		t.Fatalf("unexpected decoded value type %T", first.Value)
	}
	if v.N != 1 {
		t.Fatalf("expected the Top-priority object (n=1) first, got n=%d", v.N)
	}
}

// Test_S3 verifies a destination path that escapes FileRootDir is
// rejected rather than written outside the root.
func Test_S3_PathEscapeRejected(t *testing.T) {
	root := t.TempDir()
	srcPath := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(srcPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, sp := defaultTestParams(), defaultTestParams()
	sp.FileRootDir = root
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	col := newEventCollector()
	server.AddListener(col)

	if err := client.SendFile(srcPath, "../../etc/passwd", transport.Normal); err != nil {
		t.Fatalf("send file: %v", err)
	}

	ev := col.waitFor(t, transport.EvtFileAborted, 2*time.Second)
	if ev.Err == nil {
		t.Fatalf("expected a non-nil error on the aborted file event")
	}

	escapedPath := filepath.Join(filepath.Dir(filepath.Dir(root)), "etc", "passwd")
	if _, err := os.Stat(escapedPath); err == nil {
		t.Fatalf("escaped path %s was written", escapedPath)
	}
}

// Test_S4 verifies the two-phase graceful shutdown: Close() drains
// pending sends, exchanges CLOSED markers, and both sides reach CLOSED
// with a non-irregular cause.
func Test_S4_GracefulShutdown(t *testing.T) {
	cp, sp := defaultTestParams(), defaultTestParams()
	client, server := pipePair(t, cp, sp)

	ccol, scol := newEventCollector(), newEventCollector()
	client.AddListener(ccol)
	server.AddListener(scol)

	if err := client.SendObject(payload{N: 7}, transport.Normal); err != nil {
		t.Fatalf("send: %v", err)
	}
	scol.waitFor(t, transport.EvtObjectReceived, 2*time.Second)

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cev := ccol.waitFor(t, transport.EvtClosed, 5*time.Second)
	sev := scol.waitFor(t, transport.EvtClosed, 5*time.Second)

	if transport.CloseCause(cev.Code) == transport.CauseIrregularSocket {
		t.Fatalf("client closed irregularly")
	}
	if transport.CloseCause(sev.Code) == transport.CauseIrregularSocket {
		t.Fatalf("server closed irregularly")
	}
}

// Test_S9OQ_TempoBlockedLocally verifies SetTempo's local-refusal
// resolution (spec §9's open question, not the S6 scenario below): once
// a client-role Connection has BlockTempoChanges applied to it,
// SetTempo refuses synchronously.
func Test_S9OQ_TempoBlockedLocally(t *testing.T) {
	cp, sp := defaultTestParams(), defaultTestParams()
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	if err := client.SetTempo(2048); err != nil {
		t.Fatalf("SetTempo should succeed before any block: %v", err)
	}

	client.BlockTempoChanges()
	if err := client.SetTempo(1024); err == nil {
		t.Fatalf("expected SetTempo to be locally refused after BlockTempoChanges")
	}
}

// Test_S6_TempoCap is spec §8's literal S6: TEMPO = 100000 bytes/s,
// send a 1 MiB object, expect wall-clock time from first to last parcel
// within 5% of 10s (>= 9.5s). Runs the full ten seconds, so it's
// skipped under -short like the teacher's own slow transport tests.
func Test_S6_TempoCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TEMPO wall-clock scenario in -short mode")
	}
	cp, sp := defaultTestParams(), defaultTestParams()
	cp.Tempo = 100_000
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	col := newEventCollector()
	server.AddListener(col)

	payload := make([]byte, 1<<20) // 1 MiB
	start := time.Now()
	if err := client.SendObject(payload, transport.Normal); err != nil {
		t.Fatalf("send: %v", err)
	}
	col.waitFor(t, transport.EvtObjectReceived, 20*time.Second)
	elapsed := time.Since(start)

	if elapsed < 9500*time.Millisecond {
		t.Fatalf("expected >= 9.5s under a 100000 B/s cap for a 1 MiB object, took %s", elapsed)
	}
}
