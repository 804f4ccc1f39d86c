// Optional lz4 payload compression for OBJECT sends (SPEC_FULL.md §2/
// §11), mirroring the teacher's own Extra.Compression field. Pure
// supplement: a connection with Compression == CompressionNever never
// touches this file's code paths, and the receive side only needs to
// know the header's Compressed flag to decompress transparently.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bytes"

	"github.com/pierrec/lz4/v3"
)

// shouldCompress decides, per Params.Compression, whether this send
// should be compressed. "ratio" compresses only payloads large enough
// that lz4's frame overhead is clearly worth it.
func (c *Connection) shouldCompress(size int) bool {
	switch c.params.Compression {
	case CompressionAlways:
		return true
	case CompressionRatio:
		return size >= 4*1024
	default:
		return false
	}
}

// lz4Compress returns the lz4-framed form of b and true if it is
// actually smaller than b (a small or incompressible payload may not
// shrink, in which case the caller should send the original bytes and
// leave the header's Compressed flag unset).
func lz4Compress(b []byte) ([]byte, bool) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(b); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if out.Len() >= len(b) {
		return nil, false
	}
	return out.Bytes(), true
}

func lz4Decompress(b []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
