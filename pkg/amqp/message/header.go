// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dtn7/cboring"
)

// MarshalCbor writes this Header's CBOR representation.
func (h *Header) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(5, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(h.Durable, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(h.Priority), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(h.TTL/time.Millisecond), w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(h.FirstAcquirer, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(h.DeliveryCount), w)
}

// UnmarshalCbor reads a Header from its CBOR representation.
func (h *Header) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 5 {
		return fmt.Errorf("Header: expected array of 5 elements, got %d", n)
	}

	if durable, err := cboring.ReadBoolean(r); err != nil {
		return err
	} else {
		h.Durable = durable
	}

	if prio, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if prio > math.MaxUint8 {
		return fmt.Errorf("Header: priority %d overflows", prio)
	} else {
		h.Priority = uint8(prio)
	}

	if ttl, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if ttl > math.MaxUint32 {
		return fmt.Errorf("Header: TTL %d overflows", ttl)
	} else {
		h.TTL = time.Duration(ttl) * time.Millisecond
	}

	if firstAcquirer, err := cboring.ReadBoolean(r); err != nil {
		return err
	} else {
		h.FirstAcquirer = firstAcquirer
	}

	if count, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if count > math.MaxUint32 {
		return fmt.Errorf("Header: delivery count %d overflows", count)
	} else {
		h.DeliveryCount = uint32(count)
	}

	return nil
}

// MarshalCbor writes these Properties' CBOR representation.
func (p *Properties) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(7, w); err != nil {
		return err
	}

	fields := []string{p.MessageID, p.To, p.Subject, p.ReplyTo, p.CorrelationID, p.ContentType}
	for _, field := range fields {
		if err := cboring.WriteTextString(field, w); err != nil {
			return err
		}
	}

	var creation uint64
	if !p.CreationTime.IsZero() {
		creation = uint64(p.CreationTime.UnixNano() / int64(time.Millisecond))
	}
	return cboring.WriteUInt(creation, w)
}

// UnmarshalCbor reads Properties from their CBOR representation.
func (p *Properties) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 7 {
		return fmt.Errorf("Properties: expected array of 7 elements, got %d", n)
	}

	fields := []*string{&p.MessageID, &p.To, &p.Subject, &p.ReplyTo, &p.CorrelationID, &p.ContentType}
	for _, field := range fields {
		if s, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			*field = s
		}
	}

	if creation, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if creation > math.MaxInt64/uint64(time.Millisecond) {
		return fmt.Errorf("Properties: creation time %d overflows", creation)
	} else if creation > 0 {
		p.CreationTime = time.Unix(0, int64(creation)*int64(time.Millisecond))
	}

	return nil
}
