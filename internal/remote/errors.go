package remote

import "errors"

var (
	ErrNotConnected = errors.New("remote: not connected")
	ErrQueueFull    = errors.New("remote: transmit queue full")
	ErrNoServerURL  = errors.New("remote: server url missing")
)
