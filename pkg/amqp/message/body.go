// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// BodyKind distinguishes the sections a Body might be made of.
type BodyKind uint64

const (
	// BodyEmpty is a Message without any body section.
	BodyEmpty BodyKind = 0

	// BodyData is an opaque binary body.
	BodyData BodyKind = 1

	// BodyValue is a single string value.
	BodyValue BodyKind = 2
)

func (bk BodyKind) String() string {
	switch bk {
	case BodyEmpty:
		return "empty"
	case BodyData:
		return "data"
	case BodyValue:
		return "value"
	default:
		return "unknown"
	}
}

// Body of a Message. Only the field matching its Kind is used.
type Body struct {
	Kind  BodyKind
	Data  []byte
	Value string
}

func (b Body) String() string {
	switch b.Kind {
	case BodyData:
		return fmt.Sprintf("data(%d bytes)", len(b.Data))
	case BodyValue:
		return b.Value
	default:
		return b.Kind.String()
	}
}

// Len is the size of this Body's content in bytes.
func (b Body) Len() int {
	switch b.Kind {
	case BodyData:
		return len(b.Data)
	case BodyValue:
		return len(b.Value)
	default:
		return 0
	}
}

// CheckValid returns an error if the Body's content does not match its Kind.
func (b Body) CheckValid() error {
	switch b.Kind {
	case BodyEmpty:
		if b.Data != nil || b.Value != "" {
			return fmt.Errorf("Body: empty body has content")
		}
	case BodyData:
		if b.Value != "" {
			return fmt.Errorf("Body: data body has a value")
		}
	case BodyValue:
		if b.Data != nil {
			return fmt.Errorf("Body: value body has data")
		}
	default:
		return fmt.Errorf("Body: unknown kind %d", b.Kind)
	}
	return nil
}

// MarshalCbor writes this Body's CBOR representation, an array of its kind and, if not empty, its content.
func (b *Body) MarshalCbor(w io.Writer) error {
	if err := b.CheckValid(); err != nil {
		return err
	}

	if b.Kind == BodyEmpty {
		if err := cboring.WriteArrayLength(1, w); err != nil {
			return err
		}
		return cboring.WriteUInt(uint64(b.Kind), w)
	}

	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(b.Kind), w); err != nil {
		return err
	}

	if b.Kind == BodyData {
		return cboring.WriteByteString(b.Data, w)
	}
	return cboring.WriteTextString(b.Value, w)
}

// UnmarshalCbor reads a Body from its CBOR representation.
func (b *Body) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 1 && n != 2 {
		return fmt.Errorf("Body: expected array of 1 or 2 elements, got %d", n)
	}

	kind, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	b.Kind = BodyKind(kind)

	switch {
	case b.Kind == BodyEmpty && n == 1:
		return nil

	case b.Kind == BodyData && n == 2:
		b.Data, err = cboring.ReadByteString(r)
		return err

	case b.Kind == BodyValue && n == 2:
		b.Value, err = cboring.ReadTextString(r)
		return err

	default:
		return fmt.Errorf("Body: kind %v mismatches %d elements", b.Kind, n)
	}
}
