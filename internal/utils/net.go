package utils

import "net"

// FreeAddr reserves and releases a loopback port, returning "127.0.0.1:port".
func FreeAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}
