// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"
)

// End ends a session, optionally because of an Error.
type End struct {
	Error *Error
}

func (*End) Descriptor() uint64 { return DescriptorEnd }

func (e End) String() string {
	return fmt.Sprintf("END(error=%v)", e.Error)
}

func (e *End) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 1); err != nil {
		return err
	}
	return writeOptionalError(e.Error, w)
}

func (e *End) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "end", 1); err != nil {
		return
	}
	e.Error, err = readOptionalError(r)
	return
}
