//go:build !sonic

package cpclient

import "github.com/goccy/go-json"

var (
	jsonMarshal   = json.Marshal
	jsonUnmarshal = json.Unmarshal
)
