// Internal test for the OBJECT aggregator's sequence-number invariant
// (spec §3/§4.4): a parcel seq gap aborts the reassembly rather than
// silently appending data out of order.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"net"
	"testing"
	"time"
)

func Test_SeqGapAbortsObject(t *testing.T) {
	nc, peer := net.Pipe()
	defer peer.Close()
	defer nc.Close()

	c, err := newConnection(nc, RoleClient, DefaultParams())
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	c.delivery = newDelivery(c, DeliveryIndividual)
	defer c.delivery.stop()

	col := newInternalCollector()
	c.AddListener(col)

	h := &objHeader{
		ObjectID:  1,
		Channel:   ObjChannel,
		Priority:  Normal,
		Size:      5,
		ParcelCnt: 2,
	}

	agg, err := newObjAggregator(c, h)
	if err != nil {
		t.Fatalf("newObjAggregator: %v", err)
	}

	// agg.nextSeq is 0; feed seq=1, skipping the expected header parcel.
	c.feedObjBytes(agg, 1, []byte("hello"))

	ev := col.waitFor(t, EvtObjectAborted, 5*time.Second)
	if ev.Code != InfoObjParcelOutOfSync {
		t.Fatalf("expected InfoObjParcelOutOfSync, got info code %d", ev.Code)
	}
}
