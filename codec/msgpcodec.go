// Serialization method 2: tinylib/msgp. Values that implement
// msgp.Marshaler/Unmarshaler (generated by msgp's codegen) get the fast
// path; everything else falls back to method 0 (documented, not a
// silent correctness gap - see SPEC_FULL.md §2).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package codec

import (
	"github.com/tinylib/msgp/msgp"
)

type msgpCodec struct {
	reg      *Registry
	fallback Codec
}

func NewMsgpCodec(reg *Registry) Codec {
	return &msgpCodec{reg: reg, fallback: NewJSONCodec(reg)}
}

func (*msgpCodec) Method() int { return 2 }

func (c *msgpCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(msgp.Marshaler)
	if !ok {
		return c.fallback.Encode(v)
	}
	return m.MarshalMsg(nil)
}

func (c *msgpCodec) Decode(typeID uint32, b []byte) (any, error) {
	v, err := c.reg.New(typeID)
	if err != nil {
		return nil, err
	}
	u, ok := v.(msgp.Unmarshaler)
	if !ok {
		return c.fallback.Decode(typeID, b)
	}
	if _, err := u.UnmarshalMsg(b); err != nil {
		return nil, err
	}
	return u, nil
}
