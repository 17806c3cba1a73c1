//go:build sonic

package cpclient

import "github.com/bytedance/sonic"

var (
	jsonMarshal   = sonic.Marshal
	jsonUnmarshal = sonic.Unmarshal
)
