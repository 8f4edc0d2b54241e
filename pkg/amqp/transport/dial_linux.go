// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// sockopt is a single integer socket option, see tcp(7) and socket(7).
type sockopt struct {
	name  string
	level int
	opt   int
	value int
}

// keepaliveOptions derived from the keepalive timing. TCP_USER_TIMEOUT is in milliseconds, the others in seconds.
func keepaliveOptions() []sockopt {
	return []sockopt{
		{"SO_KEEPALIVE", unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1},
		{"TCP_KEEPIDLE", unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(keepaliveIdle / time.Second)},
		{"TCP_KEEPINTVL", unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(keepaliveInterval / time.Second)},
		{"TCP_KEEPCNT", unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepaliveCount},
		{"TCP_USER_TIMEOUT", unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(unackedTimeout / time.Millisecond)},
	}
}

// controlKeepalive sets the keepaliveOptions on a socket before it connects.
func controlKeepalive(_, _ string, rawConn syscall.RawConn) error {
	var optErr error
	if err := rawConn.Control(func(fd uintptr) {
		for _, o := range keepaliveOptions() {
			if err := unix.SetsockoptInt(int(fd), o.level, o.opt, o.value); err != nil {
				optErr = fmt.Errorf("setting %s to %d: %w", o.name, o.value, err)
				return
			}
		}
	}); err != nil {
		return err
	}
	return optErr
}

// DialTCP a new TCP connection with keepalive socket options set.
func DialTCP(address string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
		// A positive or zero KeepAlive would overwrite TCP_KEEPIDLE and TCP_KEEPINTVL after connecting.
		KeepAlive: -1,
		Control:   controlKeepalive,
	}
	return dialer.Dial("tcp", address)
}
