// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Begin starts a session on the frame's channel.
type Begin struct {
	// RemoteChannel is set if this Begin answers the peer's Begin on that channel.
	RemoteChannel *uint16

	NextOutgoingID uint32
	IncomingWindow uint32
	OutgoingWindow uint32
	HandleMax      uint32
}

func (*Begin) Descriptor() uint64 { return DescriptorBegin }

func (b Begin) String() string {
	remote := "<nil>"
	if b.RemoteChannel != nil {
		remote = fmt.Sprintf("%d", *b.RemoteChannel)
	}
	return fmt.Sprintf("BEGIN(remote-channel=%s, next-outgoing-id=%d, incoming-window=%d, outgoing-window=%d)",
		remote, b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow)
}

func (b *Begin) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 5); err != nil {
		return err
	}
	if err := writeOptionalUInt16(b.RemoteChannel, w); err != nil {
		return err
	}

	for _, u := range []uint32{b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow, b.HandleMax} {
		if err := cboring.WriteUInt(uint64(u), w); err != nil {
			return err
		}
	}
	return nil
}

func (b *Begin) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "begin", 5); err != nil {
		return
	}
	if b.RemoteChannel, err = readOptionalUInt16(r); err != nil {
		return
	}

	for _, u := range []*uint32{&b.NextOutgoingID, &b.IncomingWindow, &b.OutgoingWindow, &b.HandleMax} {
		if *u, err = readUInt32(r); err != nil {
			return
		}
	}
	return
}
