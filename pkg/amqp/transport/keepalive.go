// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "time"

// TCP keepalive timing of dialed connections.
//
// The Reactor only sends empty frames if the peer requested an idle timeout in its Open. Without one, a receiver
// waiting for messages would never notice a vanished peer. Keepalive probes detect it after keepaliveIdle plus
// keepaliveCount intervals, which is 30s.
const (
	keepaliveIdle     = 15 * time.Second
	keepaliveInterval = 5 * time.Second
	keepaliveCount    = 3

	// unackedTimeout bounds how long written frames may stay unacknowledged. It is twice the Reactor's default
	// Timeout, the time Process waits for outgoing frames to be accepted.
	unackedTimeout = 10 * time.Second
)
