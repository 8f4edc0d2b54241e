// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Disposition informs the peer about state changes for the deliveries with IDs from First to Last, inclusive.
// A nil Last equals First.
type Disposition struct {
	Role    Role
	First   uint32
	Last    *uint32
	Settled bool
	State   DeliveryState
}

func (*Disposition) Descriptor() uint64 { return DescriptorDisposition }

func (d Disposition) String() string {
	return fmt.Sprintf("DISPOSITION(role=%v, first=%d, last=%s, settled=%t, state=%v)",
		d.Role, d.First, formatUInt32Ptr(d.Last), d.Settled, d.State)
}

func (d *Disposition) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 5); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(bool(d.Role), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(d.First), w); err != nil {
		return err
	}
	if err := writeOptionalUInt32(d.Last, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(d.Settled, w); err != nil {
		return err
	}
	return writeOptionalState(d.State, w)
}

func (d *Disposition) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "disposition", 5); err != nil {
		return
	}

	if role, roleErr := cboring.ReadBoolean(r); roleErr != nil {
		return roleErr
	} else {
		d.Role = Role(role)
	}

	if d.First, err = readUInt32(r); err != nil {
		return
	}
	if d.Last, err = readOptionalUInt32(r); err != nil {
		return
	}
	if d.Settled, err = cboring.ReadBoolean(r); err != nil {
		return
	}
	d.State, err = readOptionalState(r)
	return
}
