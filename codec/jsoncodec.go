// Serialization method 0: reflective JSON via json-iterator, the default
// per transport.Params.SerializationMethod.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package codec

import (
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct {
	reg *Registry
}

func NewJSONCodec(reg *Registry) Codec { return &jsonCodec{reg: reg} }

func (*jsonCodec) Method() int { return 0 }

func (c *jsonCodec) Encode(v any) ([]byte, error) { return jsonAPI.Marshal(v) }

func (c *jsonCodec) Decode(typeID uint32, b []byte) (any, error) {
	v, err := c.reg.New(typeID)
	if err != nil {
		return nil, err
	}
	if err := jsonAPI.Unmarshal(b, v); err != nil {
		return nil, err
	}
	return v, nil
}
