// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"
	"math"

	"github.com/dtn7/cboring"
)

// Optional fields are serialized as CBOR arrays of either zero or one element.

func writeOptionalUInt32(v *uint32, w io.Writer) error {
	if v == nil {
		return cboring.WriteArrayLength(0, w)
	}

	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(*v), w)
}

func readOptionalUInt32(r io.Reader) (*uint32, error) {
	if present, err := readOptional(r); err != nil || !present {
		return nil, err
	}

	v, err := readUInt32(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeOptionalUInt16(v *uint16, w io.Writer) error {
	if v == nil {
		return writeOptionalUInt32(nil, w)
	}

	v32 := uint32(*v)
	return writeOptionalUInt32(&v32, w)
}

func readOptionalUInt16(r io.Reader) (*uint16, error) {
	v32, err := readOptionalUInt32(r)
	if err != nil || v32 == nil {
		return nil, err
	} else if *v32 > math.MaxUint16 {
		return nil, fmt.Errorf("value %d overflows uint16", *v32)
	}

	v := uint16(*v32)
	return &v, nil
}

func writeOptionalBytes(v []byte, w io.Writer) error {
	if v == nil {
		return cboring.WriteArrayLength(0, w)
	}

	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.WriteByteString(v, w)
}

func readOptionalBytes(r io.Reader) ([]byte, error) {
	if present, err := readOptional(r); err != nil || !present {
		return nil, err
	}
	return cboring.ReadByteString(r)
}

func writeOptionalError(e *Error, w io.Writer) error {
	if e == nil {
		return cboring.WriteArrayLength(0, w)
	}

	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.Marshal(e, w)
}

func readOptionalError(r io.Reader) (*Error, error) {
	if present, err := readOptional(r); err != nil || !present {
		return nil, err
	}

	e := new(Error)
	if err := cboring.Unmarshal(e, r); err != nil {
		return nil, err
	}
	return e, nil
}

// readOptional reads the surrounding array of an optional field and reports if a value follows.
func readOptional(r io.Reader) (bool, error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return false, err
	} else if n > 1 {
		return false, fmt.Errorf("optional field has %d elements", n)
	}
	return n == 1, nil
}

func readUInt32(r io.Reader) (uint32, error) {
	n, err := cboring.ReadUInt(r)
	if err != nil {
		return 0, err
	} else if n > math.MaxUint32 {
		return 0, fmt.Errorf("value %d overflows uint32", n)
	}
	return uint32(n), nil
}

// readFields reads a performative's field array header and compares its length.
func readFields(r io.Reader, name string, expected uint64) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != expected {
		return fmt.Errorf("%s has %d fields instead of %d", name, n, expected)
	}
	return nil
}

func writeFields(w io.Writer, n uint64) error {
	return cboring.WriteArrayLength(n, w)
}
