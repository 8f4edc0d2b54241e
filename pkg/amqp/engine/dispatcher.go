// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"fmt"

	"github.com/dtn7/amqprecv/pkg/amqp/message"
)

// Handler is the application's extension point, called once for each completed Delivery.
//
// If the Delivery's payload could not be decoded, msg is nil and err is a *DecodeError. The Delivery is settled
// regardless of the outcome.
type Handler interface {
	OnMessage(msg *message.Message, err error)
}

// HandlerFunc allows an ordinary function to act as a Handler.
type HandlerFunc func(msg *message.Message, err error)

// OnMessage calls f(msg, err).
func (f HandlerFunc) OnMessage(msg *message.Message, err error) {
	f(msg, err)
}

// DecodeError reports a Delivery whose payload is not a valid message.
type DecodeError struct {
	Tag  []byte
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding delivery %x failed: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Dispatcher decodes completed Deliveries and passes them to a Handler.
type Dispatcher struct {
	handler Handler
}

// NewDispatcher for a Handler. A nil Handler discards all messages.
func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Decode a readable Delivery's payload into a Message.
func (d *Dispatcher) Decode(delivery *Delivery) (*message.Message, error) {
	if delivery.State() != DeliveryReadable {
		return nil, &DecodeError{
			Tag: delivery.Tag,
			Err: fmt.Errorf("delivery is %v", delivery.State()),
		}
	}

	payload := delivery.Payload()
	msg, err := message.Decode(payload)
	if err != nil {
		return nil, &DecodeError{Tag: delivery.Tag, Size: len(payload), Err: err}
	}
	return msg, nil
}

// Dispatch a readable Delivery to the Handler.
func (d *Dispatcher) Dispatch(delivery *Delivery) {
	msg, err := d.Decode(delivery)
	if d.handler != nil {
		d.handler.OnMessage(msg, err)
	}
}
