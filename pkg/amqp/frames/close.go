// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"
)

// Close closes the connection, optionally because of an Error.
type Close struct {
	Error *Error
}

func (*Close) Descriptor() uint64 { return DescriptorClose }

func (c Close) String() string {
	return fmt.Sprintf("CLOSE(error=%v)", c.Error)
}

func (c *Close) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 1); err != nil {
		return err
	}
	return writeOptionalError(c.Error, w)
}

func (c *Close) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "close", 1); err != nil {
		return
	}
	c.Error, err = readOptionalError(r)
	return
}
