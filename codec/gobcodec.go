// Serialization method 1: encoding/gob. Kept on the standard library
// deliberately - gob is itself the stdlib's reflective wire format and
// none of the retrieved examples bring a third-party replacement for it
// (json-iterator and msgp cover methods 0 and 2); see DESIGN.md.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package codec

import (
	"bytes"
	"encoding/gob"
)

type gobCodec struct {
	reg *Registry
}

func NewGobCodec(reg *Registry) Codec { return &gobCodec{reg: reg} }

func (*gobCodec) Method() int { return 1 }

func (c *gobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *gobCodec) Decode(typeID uint32, b []byte) (any, error) {
	v, err := c.reg.New(typeID)
	if err != nil {
		return nil, err
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}
