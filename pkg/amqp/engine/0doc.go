// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package engine implements the AMQP 1.0 state machines of a receiving client.
//
// A Connection owns its Sessions, which own their receiving Links, which own their in-flight Deliveries. All
// state is mutated synchronously: incoming frames are passed to Connection.Handle, completed deliveries are
// dispatched by Connection.Dispatch and the resulting frames are collected by Connection.PopOutgoing. Nothing
// in this package blocks or starts a goroutine; driving the state machines is up to the reactor package.
//
// Closing cascades upwards: when every Link of a Session has been detached, the Session ends, and when every
// Session of a Connection has ended, the Connection closes.
package engine
