// Send scheduler, spec §4.2: a two-stage pipeline - Stage A serializes
// one send-order at a time from a bounded input queue into parcels on
// the priority queue; Stage B drains the priority queue to the socket
// under an optional TEMPO rate cap. Both stages run on the same
// goroutine, alternating on a time budget so serialization and
// transmission stay interleaved.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"io"
	"os"
	"time"

	"github.com/nxconn/nxconn/cmn/cos"
	"github.com/nxconn/nxconn/cmn/nlog"
	"github.com/nxconn/nxconn/memsys"
)

// sendOrder is spec §3's "Outbound send order": a user value or file
// path, a chosen priority, a pre-assigned object-id, and (implicitly)
// the connection's configured serialization method.
type sendOrder struct {
	channel  Channel
	priority Priority
	objectID uint64
	value    any    // OBJECT sends
	filePath string // FILE sends: local source path to read from
	destPath string // FILE sends: destination path asserted in the header
	done     chan error
}

// SendObject enqueues v for transmission at the given priority. It
// blocks on the bounded input queue (spec §4.2, "ObjectQueueCapacity
// ... a user-thread send blocks ... when full") and then waits for
// Stage A to actually serialize the order, returning any encode or
// oversize error synchronously (spec §7) rather than dropping it where
// no caller could ever observe it. Wire transmission itself remains
// asynchronous, but the parcel queue backing it now applies real
// backpressure too (spec §8 invariant 5), so this can block
// indefinitely against a peer that has stopped reading.
func (c *Connection) SendObject(v any, priority Priority) error {
	if !validPriority(priority) {
		return newUserErr("invalid priority %d", priority)
	}
	if c.State() != StateConnected {
		return newUserErr("connection is not CONNECTED (state=%s)", c.State())
	}
	o := &sendOrder{
		channel:  ObjChannel,
		priority: priority,
		objectID: c.nextObjectID(ObjChannel),
		value:    v,
		done:     make(chan error, 1),
	}
	select {
	case c.sendQ <- o:
	case <-c.stopCh.Listen():
		return newUserErr("connection closed while enqueueing send-order")
	}
	select {
	case err := <-o.done:
		return err
	case <-c.stopCh.Listen():
		return newUserErr("connection closed while serializing send-order")
	}
}

// SendFile enqueues localPath for streamed transmission. destPath is
// the path the receiver resolves against its own FileRootDir (spec
// §4.4) - ordinarily the same relative name as localPath's base, but
// callers control it explicitly so a misbehaving peer can be simulated
// (scenario S3). Like SendObject, it waits for Stage A to finish
// reading and queuing the file before returning, surfacing any I/O
// error synchronously instead of silently dropping the send.
func (c *Connection) SendFile(localPath, destPath string, priority Priority) error {
	if !validPriority(priority) {
		return newUserErr("invalid priority %d", priority)
	}
	if c.State() != StateConnected {
		return newUserErr("connection is not CONNECTED (state=%s)", c.State())
	}
	o := &sendOrder{
		channel:  FileChannel,
		priority: priority,
		objectID: c.nextObjectID(FileChannel),
		filePath: localPath,
		destPath: destPath,
		done:     make(chan error, 1),
	}
	select {
	case c.sendQ <- o:
	case <-c.stopCh.Listen():
		return newUserErr("connection closed while enqueueing send-order")
	}
	select {
	case err := <-o.done:
		return err
	case <-c.stopCh.Listen():
		return newUserErr("connection closed while serializing send-order")
	}
}

// stageABudget bounds how long Stage A runs before yielding back to
// Stage B, so a burst of large send-orders can't starve transmission
// (spec §4.2, "time budget per iteration").
const stageABudget = 20 * time.Millisecond

func (c *Connection) sendLoop() {
	for {
		if c.isTerminal() {
			return
		}
		c.stageA()
		if c.isTerminal() {
			return
		}
		c.stageB()
	}
}

// stageA drains sendQ for up to stageABudget, serializing each order
// into parcels on the parcel queue.
func (c *Connection) stageA() {
	deadline := timeNow().Add(stageABudget)
	for timeNow().Before(deadline) {
		select {
		case o := <-c.sendQ:
			err := c.serialize(o)
			if o.done != nil {
				o.done <- err
			}
		case <-c.stopCh.Listen():
			return
		default:
			// nothing pending right now; wait briefly for either new
			// work or the parcel queue to need draining
			select {
			case o := <-c.sendQ:
				err := c.serialize(o)
				if o.done != nil {
					o.done <- err
				}
			case <-time.After(time.Millisecond):
				return
			case <-c.stopCh.Listen():
				return
			}
		}
	}
}

// serialize turns one send-order into a run of parcels whose first one
// carries the object header ahead of the first data bytes, pushing all
// of them onto the parcel queue (spec §4.2 Stage A). An object's parcels
// stay within TransmissionParcelSize; a file's chunks are
// TransmissionParcelSize each, so its first parcel is larger by the
// header's length.
func (c *Connection) serialize(o *sendOrder) error {
	if o.channel == FileChannel {
		return c.serializeFile(o)
	}
	return c.serializeObject(o)
}

func (c *Connection) serializeObject(o *sendOrder) error {
	typeID, ok := codecRegistry().TypeID(o.value)
	if !ok {
		typeID = codecRegistry().Register(o.value)
	}
	payload, err := c.codec.Encode(o.value)
	if err != nil {
		return newUserErr("encode failed for object %d: %v", o.objectID, err)
	}
	if int64(len(payload)) > c.params.MaxSerializationSize {
		return newUserErr("object %d exceeds max-serialization-size (%d > %d)",
			o.objectID, len(payload), c.params.MaxSerializationSize)
	}

	compressed := false
	if c.shouldCompress(len(payload)) {
		if smaller, ok := lz4Compress(payload); ok {
			payload, compressed = smaller, true
		}
	}

	chunkSize := c.params.TransmissionParcelSize
	total := len(payload)

	h := &objHeader{
		ObjectID:   o.objectID,
		Channel:    ObjChannel,
		Priority:   o.priority,
		Method:     uint8(c.codec.Method()),
		Size:       int64(total),
		TypeID:     typeID,
		Compressed: compressed,
	}
	// the header shares parcel 0 with the first data bytes, so count the
	// parcels the way pushChunks lays them out
	firstAvail := chunkSize - len(encodeHeader(h))
	if firstAvail < 0 {
		firstAvail = 0
	}
	parcelCnt := int64(1)
	if rest := int64(total - firstAvail); rest > 0 {
		parcelCnt += cos.DivCeil(rest, int64(chunkSize))
	}
	h.ParcelCnt = uint32(parcelCnt)
	return c.pushChunks(o, h, payload)
}

func (c *Connection) serializeFile(o *sendOrder) error {
	f, err := os.Open(o.filePath)
	if err != nil {
		return newEnvErr(err, "open %s for send", o.filePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return newEnvErr(err, "stat %s for send", o.filePath)
	}
	size := info.Size()
	chunkSize := c.params.TransmissionParcelSize
	parcelCnt := cos.DivCeil(size, int64(chunkSize))
	if parcelCnt == 0 {
		parcelCnt = 1
	}

	crc := cos.NewCRC32()
	buf := memsys.PageMM().Alloc(chunkSize)
	defer memsys.PageMM().Free(buf)

	payload := make([][]byte, 0, parcelCnt)
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			crc.Write(chunk)
			payload = append(payload, chunk)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return newEnvErr(rerr, "read %s for send", o.filePath)
		}
	}

	parcels := len(payload)
	if parcels == 0 {
		parcels = 1 // pushFileChunks still sends the header in one parcel
	}
	h := &objHeader{
		ObjectID:  o.objectID,
		Channel:   FileChannel,
		Priority:  o.priority,
		Size:      size,
		ParcelCnt: uint32(parcels),
		Path:      o.destPath,
		HasCRC:    true,
		CRC32:     crc.Sum32(),
	}
	c.registerOutFile(o.objectID, o.priority)
	return c.pushFileChunks(o, h, payload)
}

// pushChunks splits a flat byte slice into parcels, header-first.
func (c *Connection) pushChunks(o *sendOrder, h *objHeader, payload []byte) error {
	chunkSize := c.params.TransmissionParcelSize
	headerBytes := encodeHeader(h)

	seq := uint32(0)
	off := 0
	first := true
	for {
		avail := chunkSize
		var chunk []byte
		if first {
			avail -= len(headerBytes)
			if avail < 0 {
				avail = 0
			}
			end := off + avail
			if end > len(payload) {
				end = len(payload)
			}
			chunk = append(append([]byte(nil), headerBytes...), payload[off:end]...)
			off = end
			first = false
		} else {
			end := off + avail
			if end > len(payload) {
				end = len(payload)
			}
			chunk = payload[off:end]
			off = end
		}
		if err := c.pushParcelBlocking(&parcel{
			Channel:  h.Channel,
			Priority: o.priority,
			ObjectID: o.objectID,
			SeqNo:    seq,
			Payload:  chunk,
		}); err != nil {
			return err
		}
		seq++
		if off >= len(payload) {
			break
		}
	}
	return nil
}

// pushFileChunks is pushChunks's sibling for a file already split into
// pre-sized chunks (avoids re-copying a potentially large in-memory
// payload slice).
func (c *Connection) pushFileChunks(o *sendOrder, h *objHeader, chunks [][]byte) error {
	headerBytes := encodeHeader(h)
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	for seq, chunk := range chunks {
		var out []byte
		if seq == 0 {
			out = append(append([]byte(nil), headerBytes...), chunk...)
		} else {
			out = chunk
		}
		if err := c.pushParcelBlocking(&parcel{
			Channel:  FileChannel,
			Priority: o.priority,
			ObjectID: o.objectID,
			SeqNo:    uint32(seq),
			Payload:  out,
		}); err != nil {
			return err
		}
	}
	return nil
}

// stageB drains the parcel queue to the socket under the configured
// TEMPO cap, for up to stageABudget before yielding back to Stage A.
func (c *Connection) stageB() {
	deadline := timeNow().Add(stageABudget)
	for timeNow().Before(deadline) {
		if c.isTerminal() {
			return
		}
		if !c.drainOneParcel() {
			if c.isTerminal() {
				return
			}
			c.pq.wait(c.stopCh.Listen())
			return
		}
	}
}

// drainOneParcel pops and writes a single parcel, applying the TEMPO
// sleep first. Factored out of stageB so pushParcelBlocking can drive
// the same drain from Stage A's own goroutine when the parcel queue is
// full: Stage A and Stage B alternate on one goroutine (spec §4.2), so
// a push that blocked on an external drainer would simply deadlock -
// nothing else is running to free the room. Returns false on an empty
// queue or a write failure (which also closes the connection).
func (c *Connection) drainOneParcel() bool {
	p, ok := c.pq.tryPop()
	if !ok {
		return false
	}
	if c.params.Tempo > 0 {
		c.tempoSleep(len(p.Payload))
	}
	if err := c.writeParcelLocked(p); err != nil {
		nlog.Errorf("%s: write failed, closing: %v", c.localID, err)
		c.closeWithCause(CauseIrregularSocket)
		return false
	}
	observeSent(p.Channel, p.Priority)
	return true
}

// pushParcelBlocking enqueues p on the parcel queue, applying
// backpressure rather than failing when ParcelQueueCapacity is reached
// (spec §8 invariant 5): instead of waiting on Stage B, which cannot
// run concurrently with the Stage A goroutine calling this, it drains
// parcels itself until room opens up.
func (c *Connection) pushParcelBlocking(p *parcel) error {
	for {
		if c.isTerminal() {
			return newUserErr("connection closed while queuing parcel for object %d, seq %d", p.ObjectID, p.SeqNo)
		}
		if c.pq.push(p) {
			return nil
		}
		if !c.drainOneParcel() {
			if c.isTerminal() {
				return newUserErr("connection closed while queuing parcel for object %d, seq %d", p.ObjectID, p.SeqNo)
			}
		}
	}
}

// tempoSleep inserts a computed delay before the next parcel so the
// long-run byte rate does not exceed the effective TEMPO cap: either
// Params.Tempo, or a cap the peer most recently requested via a TEMPO
// signal (spec §4.5).
func (c *Connection) tempoSleep(n int) {
	tempo := c.params.Tempo
	if ov := c.tempoOverride.Load(); ov != -2 {
		tempo = ov
	}
	if tempo <= 0 {
		return
	}
	secs := float64(n) / float64(tempo)
	if secs <= 0 {
		return
	}
	time.Sleep(time.Duration(secs * float64(time.Second)))
}

// SetTempo requests a new outbound rate cap, spec §9's open question
// resolved as local refusal: a client-role connection whose server has
// blocked TEMPO changes gets a synchronous error and no wire traffic at
// all, rather than a signal the server silently ignores.
func (c *Connection) SetTempo(baud int64) error {
	if baud != -1 && baud <= 0 {
		return newUserErr("tempo must be -1 or > 0, got %d", baud)
	}
	if c.role == RoleClient && c.tempoBlocked.Load() {
		return newUserErr("tempo changes are blocked by the server for this connection")
	}
	c.tempoOverride.Store(baud)
	c.sendSignal(sigTempo(int32(baud)))
	return nil
}

// BlockTempoChanges disables further SetTempo calls on a client-role
// Connection (spec §9's open question: once blocked, SetTempo refuses
// locally rather than sending a signal the server would ignore). A
// deployment enforcing a server-side policy relays that decision onto
// the client's own Connection object through its embedding process
// (e.g. the acceptor's out-of-band control channel) before calling
// this; it has no effect on a server-role Connection.
func (c *Connection) BlockTempoChanges() { c.tempoBlocked.Store(true) }

func (c *Connection) registerOutFile(objectID uint64, priority Priority) {
	c.outMu.Lock()
	c.outFiles[objectID] = &outFileSend{objectID: objectID, priority: priority, sentNS: nowNS()}
	c.outMu.Unlock()
}

// writeParcelLocked serializes access to the socket's write half: the
// send worker's own writes and any out-of-band signal write (e.g. ALIVE
// fired from a timer goroutine) share this critical section (spec §5).
func (c *Connection) writeParcelLocked(p *parcel) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeParcel(c.netConn, p); err != nil {
		return err
	}
	c.touchSend(sizeFrameHdr + len(p.Payload))
	return nil
}
