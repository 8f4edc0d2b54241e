// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Detach detaches the link endpoint from its handle. Closed links are removed from the session entirely.
type Detach struct {
	Handle uint32
	Closed bool
	Error  *Error
}

func (*Detach) Descriptor() uint64 { return DescriptorDetach }

func (d Detach) String() string {
	return fmt.Sprintf("DETACH(handle=%d, closed=%t, error=%v)", d.Handle, d.Closed, d.Error)
}

func (d *Detach) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 3); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(d.Handle), w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(d.Closed, w); err != nil {
		return err
	}
	return writeOptionalError(d.Error, w)
}

func (d *Detach) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "detach", 3); err != nil {
		return
	}
	if d.Handle, err = readUInt32(r); err != nil {
		return
	}
	if d.Closed, err = cboring.ReadBoolean(r); err != nil {
		return
	}
	d.Error, err = readOptionalError(r)
	return
}
