// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package transport

import (
	"net"
	"time"
)

// This file implements a Dialer for operating systems next to Linux. The other
// file additionally sets specific socket options for a better detection of
// connection losses.

// DialTCP a new TCP connection with a configured timeout and keepalive.
func DialTCP(address string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepaliveIdle,
	}
	return dialer.Dial("tcp", address)
}
