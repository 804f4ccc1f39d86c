// Internal test for scenario S2 (spec §8): a FILE reception whose
// trailing CRC-32 doesn't match the declared header value is aborted
// with InfoCRCFailure rather than renamed into place.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/nxconn/nxconn/cmn/cos"
)

// internalCollector mirrors transport_test's eventCollector for
// white-box tests that need package-private symbols (newConnection,
// newFileAggregator, objHeader) and so can't live in transport_test.
type internalCollector struct {
	ch chan Event
}

func newInternalCollector() *internalCollector {
	return &internalCollector{ch: make(chan Event, 64)}
}

func (ic *internalCollector) OnEvent(ev Event) { ic.ch <- ev }

func (ic *internalCollector) waitFor(t *testing.T, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ic.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

func crc32OfString(s string) uint32 {
	h := cos.NewCRC32()
	h.Write([]byte(s))
	return h.Sum32()
}

func Test_S2_CRCMismatchAborts(t *testing.T) {
	root := t.TempDir()
	nc, peer := net.Pipe()
	defer peer.Close()
	defer nc.Close()

	p := DefaultParams()
	p.FileRootDir = root
	c, err := newConnection(nc, RoleClient, p)
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	c.delivery = newDelivery(c, DeliveryIndividual)
	defer c.delivery.stop()

	col := newInternalCollector()
	c.AddListener(col)

	h := &objHeader{
		ObjectID:  1,
		Channel:   FileChannel,
		Priority:  Normal,
		Size:      5,
		ParcelCnt: 1,
		Path:      "payload.bin",
		HasCRC:    true,
		CRC32:     0xdeadbeef, // deliberately wrong for "hello"
	}

	agg, err := newFileAggregator(c, h)
	if err != nil {
		t.Fatalf("newFileAggregator: %v", err)
	}

	c.feedFileBytes(agg, 0, []byte("hello")) // last (and only) parcel: triggers finishFile

	ev := col.waitFor(t, EvtFileAborted, 5*time.Second)
	if ev.Code != InfoCRCFailure {
		t.Fatalf("expected InfoCRCFailure, got info code %d", ev.Code)
	}

	if _, err := os.Stat(agg.destPath); err == nil {
		t.Fatalf("destination %s must not exist after a CRC failure", agg.destPath)
	}
	if _, err := os.Stat(agg.tempPath); !os.IsNotExist(err) {
		t.Fatalf("temp file %s should have been removed on abort", agg.tempPath)
	}
	if !activeFiles.reserve(agg.destPath) {
		t.Fatalf("destination path should have been released from the active-file registry")
	}
	activeFiles.release(agg.destPath)
}

// Test_SeqGapAbortsFile verifies the aggregator sequence-number check
// (spec §3's monotonic invariant, §4.4's ParcelOutOfSync): a data parcel
// whose SeqNo skips ahead of the aggregator's expected next sequence
// aborts the transfer instead of being appended out of order.
func Test_SeqGapAbortsFile(t *testing.T) {
	root := t.TempDir()
	nc, peer := net.Pipe()
	defer peer.Close()
	defer nc.Close()

	p := DefaultParams()
	p.FileRootDir = root
	c, err := newConnection(nc, RoleClient, p)
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	c.delivery = newDelivery(c, DeliveryIndividual)
	defer c.delivery.stop()

	col := newInternalCollector()
	c.AddListener(col)

	h := &objHeader{
		ObjectID:  3,
		Channel:   FileChannel,
		Priority:  Normal,
		Size:      10,
		ParcelCnt: 2,
		Path:      "gap.bin",
	}

	agg, err := newFileAggregator(c, h)
	if err != nil {
		t.Fatalf("newFileAggregator: %v", err)
	}

	// agg.nextSeq is 0; feed seq=2 instead, skipping both the expected
	// header parcel (seq 0) and the next data parcel (seq 1).
	c.feedFileBytes(agg, 2, []byte("hello"))

	ev := col.waitFor(t, EvtFileAborted, 5*time.Second)
	if ev.Code != InfoParcelOutOfSync {
		t.Fatalf("expected InfoParcelOutOfSync, got info code %d", ev.Code)
	}
	if _, err := os.Stat(agg.tempPath); !os.IsNotExist(err) {
		t.Fatalf("temp file %s should have been removed on abort", agg.tempPath)
	}
}

func Test_S2_CRCMatchSucceeds(t *testing.T) {
	root := t.TempDir()
	nc, peer := net.Pipe()
	defer peer.Close()
	defer nc.Close()

	p := DefaultParams()
	p.FileRootDir = root
	c, err := newConnection(nc, RoleClient, p)
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	c.delivery = newDelivery(c, DeliveryIndividual)
	defer c.delivery.stop()

	col := newInternalCollector()
	c.AddListener(col)

	h := &objHeader{
		ObjectID:  2,
		Channel:   FileChannel,
		Priority:  Normal,
		Size:      5,
		ParcelCnt: 1,
		Path:      "ok.bin",
		HasCRC:    true,
		CRC32:     crc32OfString("hello"),
	}

	agg, err := newFileAggregator(c, h)
	if err != nil {
		t.Fatalf("newFileAggregator: %v", err)
	}
	c.feedFileBytes(agg, 0, []byte("hello"))

	ev := col.waitFor(t, EvtFileReceived, 5*time.Second)
	if ev.Path != agg.destPath {
		t.Fatalf("expected FileReceived path %s, got %s", agg.destPath, ev.Path)
	}
	got, err := os.ReadFile(agg.destPath)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected destination contents %q", got)
	}
}
