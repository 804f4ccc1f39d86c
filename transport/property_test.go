// Property tests for the six universal invariants of spec §8, exercised
// over a table of channel/priority combinations rather than one fixed
// case each - grounded on the teacher's table-driven message-roundtrip
// test style.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nxconn/nxconn/transport"
)

type seqPayload struct {
	N int `json:"n"`
}

// Invariant 1: for a fixed priority, objects sent in order arrive in
// the same order.
func Test_Prop1_OrderPreservedPerPriority(t *testing.T) {
	for _, prio := range []transport.Priority{transport.Top, transport.High, transport.Normal, transport.Low, transport.Bottom} {
		prio := prio
		t.Run(prio.String(), func(t *testing.T) {
			cp, sp := defaultTestParams(), defaultTestParams()
			client, server := pipePair(t, cp, sp)
			defer client.HardClose()
			defer server.HardClose()

			col := newEventCollector()
			server.AddListener(col)

			const n = 20
			for i := 0; i < n; i++ {
				if err := client.SendObject(seqPayload{N: i}, prio); err != nil {
					t.Fatalf("send %d: %v", i, err)
				}
			}

			for i := 0; i < n; i++ {
				ev := col.waitFor(t, transport.EvtObjectReceived, 2*time.Second)
				v, ok := ev.Value.(*seqPayload)
				if !ok {
					t.Fatalf("unexpected decoded value type %T", ev.Value)
				}
				if v.N != i {
					t.Fatalf("out-of-order delivery: expected n=%d, got n=%d", i, v.N)
				}
			}
		})
	}
}

// Invariant 2: the reassembled payload is byte-identical to what the
// sender serialized.
func Test_Prop2_ByteIdenticalRoundTrip(t *testing.T) {
	cp, sp := defaultTestParams(), defaultTestParams()
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	col := newEventCollector()
	server.AddListener(col)

	want := make([]byte, 3*cp.TransmissionParcelSize+17) // spans several parcels
	for i := range want {
		want[i] = byte(i % 251)
	}
	if err := client.SendObject(want, transport.Normal); err != nil {
		t.Fatalf("send: %v", err)
	}

	ev := col.waitFor(t, transport.EvtObjectReceived, 2*time.Second)
	got, ok := ev.Value.(*[]byte)
	if !ok {
		t.Fatalf("unexpected decoded value type %T", ev.Value)
	}
	if !bytes.Equal(*got, want) {
		t.Fatalf("round-tripped payload differs from what was sent")
	}
}

// Invariant 3: a file transfer that completes without error preserves
// both the sender's CRC-32 and its byte length (the positive half of
// S2, exercised here across a few sizes rather than one fixed file).
func Test_Prop3_FileSizeAndContentPreserved(t *testing.T) {
	for _, size := range []int{0, 1, 4096, 257 * 1024} {
		size := size
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			root := t.TempDir()
			srcDir := t.TempDir()
			srcPath := filepath.Join(srcDir, "src.bin")

			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i % 256)
			}
			if err := os.WriteFile(srcPath, data, 0o644); err != nil {
				t.Fatal(err)
			}

			cp, sp := defaultTestParams(), defaultTestParams()
			sp.FileRootDir = root
			client, server := pipePair(t, cp, sp)
			defer client.HardClose()
			defer server.HardClose()

			col := newEventCollector()
			server.AddListener(col)

			if err := client.SendFile(srcPath, "dst.bin", transport.Normal); err != nil {
				t.Fatalf("send file: %v", err)
			}

			ev := col.waitFor(t, transport.EvtFileReceived, 5*time.Second)
			got, err := os.ReadFile(ev.Path)
			if err != nil {
				t.Fatalf("read destination: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("destination content mismatch for size %d", size)
			}
		})
	}
}

// Invariant 4: no object-id is reused on the same side of a connection.
func Test_Prop4_ObjectIDsNeverReused(t *testing.T) {
	cp, sp := defaultTestParams(), defaultTestParams()
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	col := newEventCollector()
	server.AddListener(col)

	const n = 50
	for i := 0; i < n; i++ {
		if err := client.SendObject(seqPayload{N: i}, transport.Normal); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		ev := col.waitFor(t, transport.EvtObjectReceived, 2*time.Second)
		if seen[ev.ObjectID] {
			t.Fatalf("object-id %d observed twice", ev.ObjectID)
		}
		seen[ev.ObjectID] = true
	}
}

// Invariant 5 (partial): a send-order does not block indefinitely while
// the input queue still has capacity.
func Test_Prop5_SendDoesNotBlockWhileQueueHasCapacity(t *testing.T) {
	cp, sp := defaultTestParams(), defaultTestParams()
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()
	defer server.HardClose()

	server.AddListener(newEventCollector()) // drain so stageB never stalls

	done := make(chan error, 1)
	go func() { done <- client.SendObject(seqPayload{N: 1}, transport.Normal) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendObject blocked despite available queue capacity")
	}
}

// Invariant 6: closing a connection releases any in-flight file's temp
// file and its active-file registration.
func Test_Prop6_CloseReleasesInFlightFiles(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "src.bin")
	data := make([]byte, 4*1024*1024) // large enough to still be in flight at Close
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cp, sp := defaultTestParams(), defaultTestParams()
	sp.FileRootDir = root
	client, server := pipePair(t, cp, sp)
	defer client.HardClose()

	if err := client.SendFile(srcPath, "dst.bin", transport.Normal); err != nil {
		t.Fatalf("send file: %v", err)
	}
	// give the receive side a moment to open its temp file before the
	// hard close tears everything down mid-transfer.
	time.Sleep(20 * time.Millisecond)
	server.HardClose()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		matches, _ := filepath.Glob(filepath.Join(root, "*.temp"))
		if len(matches) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("temp file still present in %s after HardClose", root)
}
