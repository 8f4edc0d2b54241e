// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"bytes"
	"fmt"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// Delivery is an incoming message transfer, possibly split across multiple Transfer frames.
type Delivery struct {
	ID  uint32
	Tag []byte

	// RemoteSettled is set if the sender has settled this Delivery already, i.e., it was sent pre-settled.
	RemoteSettled bool

	state DeliveryState
	buf   *bytes.Buffer
}

// newDelivery for the first Transfer of a delivery.
func newDelivery(id uint32, tag []byte) *Delivery {
	return &Delivery{
		ID:    id,
		Tag:   tag,
		state: DeliveryPartial,
		buf:   new(bytes.Buffer),
	}
}

func (d *Delivery) String() string {
	return fmt.Sprintf("DELIVERY(id=%d, tag=%x, state=%v)", d.ID, d.Tag, d.state)
}

// State of this Delivery.
func (d *Delivery) State() DeliveryState {
	return d.state
}

// Payload returns the accumulated message bytes. It is nil for a settled Delivery.
func (d *Delivery) Payload() []byte {
	if d.buf == nil {
		return nil
	}
	return d.buf.Bytes()
}

// Size of the payload received so far.
func (d *Delivery) Size() int {
	if d.buf == nil {
		return 0
	}
	return d.buf.Len()
}

// nextTransfer appends a Transfer's payload to a partial Delivery. The Delivery becomes readable with the last
// Transfer, the one without the more flag.
func (d *Delivery) nextTransfer(t *frames.Transfer) error {
	if d.state != DeliveryPartial {
		return fmt.Errorf("delivery %d is %v", d.ID, d.state)
	}

	if n, err := d.buf.Write(t.Payload); err != nil {
		return err
	} else if n != len(t.Payload) {
		return fmt.Errorf("expected %d bytes instead of %d", len(t.Payload), n)
	}

	if t.Settled {
		d.RemoteSettled = true
	}
	if !t.More {
		d.state = DeliveryReadable
	}
	return nil
}

// settle this Delivery and free its payload.
func (d *Delivery) settle() {
	d.state = DeliverySettled
	d.buf = nil
}
