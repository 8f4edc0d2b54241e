// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// DialWebSocket connects to an AMQP WebSocket endpoint, e.g., "ws://localhost:5673/".
func DialWebSocket(url string, timeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{WebSocketSubprotocol},
	}

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	if proto := conn.Subprotocol(); proto != WebSocketSubprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("peer negotiated WebSocket subprotocol %q instead of %q", proto, WebSocketSubprotocol)
	}
	return conn, nil
}
