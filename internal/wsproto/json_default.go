//go:build !sonic

package wsproto

import "github.com/goccy/go-json"

var (
	jsonMarshal   = json.Marshal
	jsonUnmarshal = json.Unmarshal
)
