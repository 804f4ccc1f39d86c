// File aggregator, spec §4.4: reassembles FILE-channel parcels to a
// ".temp" file adjacent to the eventual destination, verifies free
// space, path containment, and (optionally) CRC-32, then atomically
// renames into place.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nxconn/nxconn/cmn/cos"
	"github.com/nxconn/nxconn/ios"
)

const tempSuffix = ".temp"

const freeSpaceSlack = 16 * cos.MiB

type fileAggregator struct {
	conn       *Connection
	objectID   uint64
	priority   Priority
	expSize    int64
	expParcels uint32
	nextSeq    uint32

	destPath string // canonical final destination
	tempPath string
	f        *os.File

	hasCRC   bool
	wantCRC  uint32
	crc      cos.CRC32
	written  int64
}

// newFileAggregator validates the header's destination path against
// Params.FileRootDir and opens the ".temp" staging file. Any validation
// failure here has already sent the matching FAIL/event to the caller
// before returning a non-nil error, so recv.go need not repeat that.
func newFileAggregator(c *Connection, h *objHeader) (*fileAggregator, error) {
	if c.params.FileRootDir == "" {
		c.sendSignal(sigFail(h.ObjectID, InfoRemoteAssignmentError, "no reception configured"))
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: h.ObjectID, Code: InfoLocalAssignmentError,
			Err: newEnvErr(nil, "reception undefined: no file-root-dir configured")})
		return nil, newEnvErr(nil, "reception undefined")
	}

	dest, err := resolveDestPath(c.params.FileRootDir, h.Path)
	if err != nil {
		c.sendSignal(sigFail(h.ObjectID, InfoRemoteAssignmentError, err.Error()))
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: h.ObjectID, Code: InfoLocalAssignmentError, Err: err})
		return nil, err
	}

	if h.Size > 0 {
		avail, aerr := ios.AvailBytes(c.params.FileRootDir)
		if aerr == nil && avail < h.Size+freeSpaceSlack {
			err := newEnvErr(nil, "insufficient free space for %d bytes on %s", h.Size, c.params.FileRootDir)
			c.sendSignal(sigFail(h.ObjectID, InfoRemoteAssignmentError, err.Error()))
			c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: h.ObjectID, Code: InfoLocalAssignmentError, Err: err})
			return nil, err
		}
	}

	if !activeFiles.reserve(dest) {
		err := newEnvErr(nil, "destination %s already has an in-flight transfer", dest)
		c.sendSignal(sigFail(h.ObjectID, InfoRemoteAssignmentError, err.Error()))
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: h.ObjectID, Code: InfoLocalAssignmentError, Err: err})
		return nil, err
	}

	temp := dest + tempSuffix
	f, ferr := os.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if ferr != nil {
		activeFiles.release(dest)
		err := newEnvErr(ferr, "create temp file %s", temp)
		c.sendSignal(sigFail(h.ObjectID, InfoRemoteAssignmentError, err.Error()))
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: h.ObjectID, Code: InfoLocalAssignmentError, Err: err})
		return nil, err
	}

	agg := &fileAggregator{
		conn:       c,
		objectID:   h.ObjectID,
		priority:   h.Priority,
		expSize:    h.Size,
		expParcels: h.ParcelCnt,
		destPath:   dest,
		tempPath:   temp,
		f:          f,
		hasCRC:     h.HasCRC,
		wantCRC:    h.CRC32,
	}
	if agg.hasCRC {
		agg.crc = cos.NewCRC32()
	}
	return agg, nil
}

// resolveDestPath resolves path against root and enforces spec §4.4's
// no-escape invariant: the canonical resolution must have root as a
// prefix. Reserved names (empty, ".", "..") and paths resolving to an
// existing directory are rejected.
func resolveDestPath(root, path string) (string, error) {
	if path == "" || path == "." || path == ".." {
		return "", newProtoErr("reserved destination name %q", path)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(rootAbs, path)
	cleaned := filepath.Clean(joined)

	if cleaned != rootAbs && !strings.HasPrefix(cleaned, rootAbs+string(filepath.Separator)) {
		return "", newProtoErr("path %q escapes file-root-dir", path)
	}
	if fi, err := os.Stat(cleaned); err == nil && fi.IsDir() {
		return "", newProtoErr("destination %q is an existing directory", path)
	}
	return cleaned, nil
}

// feedFileBytes appends a data chunk to agg. seq must equal
// agg.nextSeq (spec §3/§4.4: strictly monotonic sequence numbers
// starting at 0); any gap, duplicate, or reorder aborts the transfer as
// ParcelOutOfSync.
func (c *Connection) feedFileBytes(agg *fileAggregator, seq uint32, b []byte) {
	if seq != agg.nextSeq {
		c.abortFile(agg, InfoParcelOutOfSync, "parcel out of sync", true)
		return
	}
	if len(b) > 0 {
		if _, err := agg.f.Write(b); err != nil {
			c.abortFile(agg, InfoLocalAssignmentError, "write temp file: "+err.Error(), true)
			return
		}
		if agg.hasCRC {
			agg.crc.Write(b)
		}
		agg.written += int64(len(b))
	}
	agg.nextSeq++
	if agg.expParcels > 0 && agg.nextSeq >= agg.expParcels {
		c.finishFile(agg)
	}
}

func (c *Connection) finishFile(agg *fileAggregator) {
	if err := agg.f.Close(); err != nil {
		c.abortFile(agg, InfoLocalAssignmentError, "close temp file: "+err.Error(), true)
		return
	}

	if agg.hasCRC {
		got := agg.crc.Sum32()
		if got != agg.wantCRC {
			c.abortFile(agg, InfoCRCFailure, "CRC mismatch", true)
			return
		}
	}

	_ = os.Remove(agg.destPath) // best-effort: destination may not pre-exist
	if err := os.Rename(agg.tempPath, agg.destPath); err != nil {
		c.abortFile(agg, InfoLocalAssignmentError, "rename temp file: "+err.Error(), true)
		return
	}

	c.retireFile(agg.objectID)
	activeFiles.release(agg.destPath)
	c.sendSignal(sigConfirm(agg.objectID))
	c.fireEvent(Event{Kind: EvtFileReceived, ObjectID: agg.objectID, Priority: agg.priority, Path: agg.destPath})
}

// abortFile tears down an in-flight file reception from any failure
// point: closes/deletes the temp file, releases the global
// registration, retires the object-id, and (optionally) notifies the
// remote side and the local listener set.
func (c *Connection) abortFile(agg *fileAggregator, info int32, reason string, notify bool) {
	c.retireFile(agg.objectID)
	if agg.f != nil {
		agg.f.Close()
	}
	os.Remove(agg.tempPath)
	activeFiles.release(agg.destPath)
	observeAggregatorAbort("file")

	if notify {
		c.sendSignal(sigFail(agg.objectID, info, reason))
		c.fireEvent(Event{Kind: EvtFileAborted, ObjectID: agg.objectID, Priority: agg.priority, Code: int(info)})
	}
}
