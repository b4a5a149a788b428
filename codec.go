package main

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// 请求与响应为普通Go结构体，以JSON编码替换connect默认的protobuf JSON编码
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
