// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package frames is the codec boundary for AMQP 1.0 performatives.
//
// Each performative (Open, Begin, Attach, Flow, Transfer, Disposition, Detach, End, Close) is a type
// implementing the Performative interface. A Frame wraps a Performative together with its channel.
// Frames are written and read with WriteFrame and ReadFrame. The fixed AMQP frame header is kept, but
// the frame body is serialized as a CBOR array of the performative's descriptor code and its fields,
// using the cboring library. A Transfer's payload directly follows its CBOR body until the end of the
// frame.
//
// A frame without a body is an empty frame, used as a heartbeat.
package frames
