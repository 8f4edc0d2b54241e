// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"
)

// Performative describes all kinds of AMQP performatives, which have their serialization and deserialization in
// common. The set of implementations is closed; they are listed in the performatives map.
type Performative interface {
	cboring.CborMarshaler

	// Descriptor is the performative's AMQP descriptor code.
	Descriptor() uint64
}

// Descriptor codes of the AMQP 1.0 performatives.
const (
	DescriptorOpen        uint64 = 0x10
	DescriptorBegin       uint64 = 0x11
	DescriptorAttach      uint64 = 0x12
	DescriptorFlow        uint64 = 0x13
	DescriptorTransfer    uint64 = 0x14
	DescriptorDisposition uint64 = 0x15
	DescriptorDetach      uint64 = 0x16
	DescriptorEnd         uint64 = 0x17
	DescriptorClose       uint64 = 0x18
)

// performatives maps the descriptor codes to an example instance of their type.
var performatives = map[uint64]Performative{
	DescriptorOpen:        &Open{},
	DescriptorBegin:       &Begin{},
	DescriptorAttach:      &Attach{},
	DescriptorFlow:        &Flow{},
	DescriptorTransfer:    &Transfer{},
	DescriptorDisposition: &Disposition{},
	DescriptorDetach:      &Detach{},
	DescriptorEnd:         &End{},
	DescriptorClose:       &Close{},
}

// NewPerformative creates a new, empty Performative for a given descriptor code.
func NewPerformative(descriptor uint64) (p Performative, err error) {
	pType, exists := performatives[descriptor]
	if !exists {
		err = fmt.Errorf("no performative registered for descriptor %x", descriptor)
		return
	}

	pElem := reflect.TypeOf(pType).Elem()
	p = reflect.New(pElem).Interface().(Performative)
	return
}

// marshalPerformative writes a Performative wrapped with its descriptor code as CBOR.
func marshalPerformative(p Performative, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(p.Descriptor(), w); err != nil {
		return err
	}
	return cboring.Marshal(p, w)
}

// unmarshalPerformative reads a new Performative based on its descriptor code from CBOR.
func unmarshalPerformative(r io.Reader) (p Performative, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	if d, dErr := cboring.ReadUInt(r); dErr != nil {
		err = dErr
		return
	} else if p, err = NewPerformative(d); err != nil {
		return
	}

	if pErr := cboring.Unmarshal(p, r); pErr != nil {
		err = fmt.Errorf("unmarshalling %T failed: %w", p, pErr)
		p = nil
	}
	return
}
