// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package transport

import (
	"net"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDialTCPKeepalive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		if conn, err := ln.Accept(); err == nil {
			defer conn.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	conn, err := DialTCP(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rawConn, err := conn.(syscall.Conn).SyscallConn()
	if err != nil {
		t.Fatal(err)
	}

	for _, o := range keepaliveOptions() {
		var value int
		var optErr error
		if err := rawConn.Control(func(fd uintptr) {
			value, optErr = unix.GetsockoptInt(int(fd), o.level, o.opt)
		}); err != nil {
			t.Fatal(err)
		} else if optErr != nil {
			t.Fatalf("%s: %v", o.name, optErr)
		}

		// SO_KEEPALIVE might be reported as any non-zero value.
		if (o.name == "SO_KEEPALIVE" && value == 0) || (o.name != "SO_KEEPALIVE" && value != o.value) {
			t.Fatalf("%s is %d, expected %d", o.name, value, o.value)
		}
	}
}
