//go:build sonic

package wsproto

import "github.com/bytedance/sonic"

var (
	jsonMarshal   = sonic.Marshal
	jsonUnmarshal = sonic.Unmarshal
)
