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

// DeliveryState is the outcome of a delivery, transmitted within a Disposition.
type DeliveryState interface {
	cboring.CborMarshaler

	stateCode() uint64
}

const (
	stateAccepted uint64 = 0x24
	stateRejected uint64 = 0x25
	stateReleased uint64 = 0x26
	stateModified uint64 = 0x27
)

var deliveryStates = map[uint64]reflect.Type{
	stateAccepted: reflect.TypeOf(Accepted{}),
	stateRejected: reflect.TypeOf(Rejected{}),
	stateReleased: reflect.TypeOf(Released{}),
	stateModified: reflect.TypeOf(Modified{}),
}

// Accepted indicates a successfully processed delivery.
type Accepted struct{}

func (*Accepted) stateCode() uint64 { return stateAccepted }

func (*Accepted) String() string { return "ACCEPTED" }

func (*Accepted) MarshalCbor(w io.Writer) error { return writeFields(w, 0) }

func (*Accepted) UnmarshalCbor(r io.Reader) error { return readFields(r, "accepted", 0) }

// Rejected indicates an invalid and unprocessable delivery.
type Rejected struct {
	Error *Error
}

func (*Rejected) stateCode() uint64 { return stateRejected }

func (rej *Rejected) String() string { return fmt.Sprintf("REJECTED(%v)", rej.Error) }

func (rej *Rejected) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 1); err != nil {
		return err
	}
	return writeOptionalError(rej.Error, w)
}

func (rej *Rejected) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "rejected", 1); err != nil {
		return
	}
	rej.Error, err = readOptionalError(r)
	return
}

// Released indicates a delivery which was not and will not be processed.
type Released struct{}

func (*Released) stateCode() uint64 { return stateReleased }

func (*Released) String() string { return "RELEASED" }

func (*Released) MarshalCbor(w io.Writer) error { return writeFields(w, 0) }

func (*Released) UnmarshalCbor(r io.Reader) error { return readFields(r, "released", 0) }

// Modified indicates a delivery which was modified but not processed.
type Modified struct {
	DeliveryFailed    bool
	UndeliverableHere bool
}

func (*Modified) stateCode() uint64 { return stateModified }

func (m *Modified) String() string {
	return fmt.Sprintf("MODIFIED(delivery-failed=%t, undeliverable-here=%t)", m.DeliveryFailed, m.UndeliverableHere)
}

func (m *Modified) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 2); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(m.DeliveryFailed, w); err != nil {
		return err
	}
	return cboring.WriteBoolean(m.UndeliverableHere, w)
}

func (m *Modified) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "modified", 2); err != nil {
		return
	}
	if m.DeliveryFailed, err = cboring.ReadBoolean(r); err != nil {
		return
	}
	m.UndeliverableHere, err = cboring.ReadBoolean(r)
	return
}

// writeOptionalState writes an optional DeliveryState, wrapped with its state code.
func writeOptionalState(state DeliveryState, w io.Writer) error {
	if state == nil {
		return cboring.WriteArrayLength(0, w)
	}

	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(state.stateCode(), w); err != nil {
		return err
	}
	return cboring.Marshal(state, w)
}

func readOptionalState(r io.Reader) (DeliveryState, error) {
	if present, err := readOptional(r); err != nil || !present {
		return nil, err
	}

	if err := readFields(r, "delivery state", 2); err != nil {
		return nil, err
	}

	code, err := cboring.ReadUInt(r)
	if err != nil {
		return nil, err
	}

	t, ok := deliveryStates[code]
	if !ok {
		return nil, fmt.Errorf("no delivery state registered for code %x", code)
	}

	state := reflect.New(t).Interface().(DeliveryState)
	if err := cboring.Unmarshal(state, r); err != nil {
		return nil, err
	}
	return state, nil
}
