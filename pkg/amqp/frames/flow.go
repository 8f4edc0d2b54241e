// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dtn7/cboring"
)

// Flow updates the session's window state and, if Handle is set, the addressed link's flow state.
type Flow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32

	Handle        *uint32
	DeliveryCount *uint32
	LinkCredit    *uint32
	Available     *uint32

	Drain bool
	Echo  bool
}

func (*Flow) Descriptor() uint64 { return DescriptorFlow }

func formatUInt32Ptr(p *uint32) string {
	if p == nil {
		return "<nil>"
	}
	return strconv.FormatUint(uint64(*p), 10)
}

func (f Flow) String() string {
	return fmt.Sprintf("FLOW(next-incoming-id=%s, incoming-window=%d, next-outgoing-id=%d, outgoing-window=%d, "+
		"handle=%s, delivery-count=%s, link-credit=%s, available=%s, drain=%t, echo=%t)",
		formatUInt32Ptr(f.NextIncomingID), f.IncomingWindow, f.NextOutgoingID, f.OutgoingWindow,
		formatUInt32Ptr(f.Handle), formatUInt32Ptr(f.DeliveryCount), formatUInt32Ptr(f.LinkCredit),
		formatUInt32Ptr(f.Available), f.Drain, f.Echo)
}

func (f *Flow) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 10); err != nil {
		return err
	}
	if err := writeOptionalUInt32(f.NextIncomingID, w); err != nil {
		return err
	}

	for _, u := range []uint32{f.IncomingWindow, f.NextOutgoingID, f.OutgoingWindow} {
		if err := cboring.WriteUInt(uint64(u), w); err != nil {
			return err
		}
	}

	for _, u := range []*uint32{f.Handle, f.DeliveryCount, f.LinkCredit, f.Available} {
		if err := writeOptionalUInt32(u, w); err != nil {
			return err
		}
	}

	for _, b := range []bool{f.Drain, f.Echo} {
		if err := cboring.WriteBoolean(b, w); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flow) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "flow", 10); err != nil {
		return
	}
	if f.NextIncomingID, err = readOptionalUInt32(r); err != nil {
		return
	}

	for _, u := range []*uint32{&f.IncomingWindow, &f.NextOutgoingID, &f.OutgoingWindow} {
		if *u, err = readUInt32(r); err != nil {
			return
		}
	}

	for _, u := range []**uint32{&f.Handle, &f.DeliveryCount, &f.LinkCredit, &f.Available} {
		if *u, err = readOptionalUInt32(r); err != nil {
			return
		}
	}

	if f.Drain, err = cboring.ReadBoolean(r); err != nil {
		return
	}
	f.Echo, err = cboring.ReadBoolean(r)
	return
}
