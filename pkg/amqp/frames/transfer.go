// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Transfer carries one fragment of a delivery's message over a link.
//
// The first Transfer of a delivery carries its DeliveryID and DeliveryTag. Continuations may omit both. The
// Payload is not part of the CBOR body, it is appended to the frame as raw bytes.
type Transfer struct {
	Handle        uint32
	DeliveryID    *uint32
	DeliveryTag   []byte
	MessageFormat uint32
	Settled       bool
	More          bool
	Aborted       bool

	Payload []byte
}

func (*Transfer) Descriptor() uint64 { return DescriptorTransfer }

func (t Transfer) String() string {
	return fmt.Sprintf("TRANSFER(handle=%d, delivery-id=%s, delivery-tag=%x, settled=%t, more=%t, aborted=%t, payload=%d bytes)",
		t.Handle, formatUInt32Ptr(t.DeliveryID), t.DeliveryTag, t.Settled, t.More, t.Aborted, len(t.Payload))
}

func (t *Transfer) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 7); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(t.Handle), w); err != nil {
		return err
	}
	if err := writeOptionalUInt32(t.DeliveryID, w); err != nil {
		return err
	}
	if err := writeOptionalBytes(t.DeliveryTag, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(t.MessageFormat), w); err != nil {
		return err
	}

	for _, b := range []bool{t.Settled, t.More, t.Aborted} {
		if err := cboring.WriteBoolean(b, w); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transfer) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "transfer", 7); err != nil {
		return
	}
	if t.Handle, err = readUInt32(r); err != nil {
		return
	}
	if t.DeliveryID, err = readOptionalUInt32(r); err != nil {
		return
	}
	if t.DeliveryTag, err = readOptionalBytes(r); err != nil {
		return
	}
	if t.MessageFormat, err = readUInt32(r); err != nil {
		return
	}

	for _, b := range []*bool{&t.Settled, &t.More, &t.Aborted} {
		if *b, err = cboring.ReadBoolean(r); err != nil {
			return
		}
	}
	return
}
