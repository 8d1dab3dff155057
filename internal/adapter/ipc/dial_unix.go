//go:build !windows

package ipc

import (
	"context"
	"net"
)

func defaultDial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address)
}
