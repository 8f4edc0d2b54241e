// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package message describes the application messages carried within AMQP deliveries.
//
// A Message is serialized as a CBOR array of four elements: an optional Header, optional Properties, the
// application properties as a map of text strings and the Body.
package message

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// MaxPriority is the highest valid message priority.
const MaxPriority = 9

// DefaultPriority is the priority of messages without a Header.
const DefaultPriority = 4

// Header carries the delivery related annotations of a Message.
type Header struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

// Properties are the immutable, well-known properties of a Message.
type Properties struct {
	MessageID     string
	To            string
	Subject       string
	ReplyTo       string
	CorrelationID string
	ContentType   string

	// CreationTime is transmitted in milliseconds since the epoch. The zero Time is omitted.
	CreationTime time.Time
}

// Message is an application message, materialized from a delivery's payload.
type Message struct {
	Header                *Header
	Properties            *Properties
	ApplicationProperties map[string]string
	Body                  Body
}

// NewTextMessage creates a Message with a string Value as its body.
func NewTextMessage(text string) *Message {
	return &Message{Body: Body{Kind: BodyValue, Value: text}}
}

// NewDataMessage creates a Message with binary Data as its body.
func NewDataMessage(data []byte) *Message {
	return &Message{Body: Body{Kind: BodyData, Data: data}}
}

// Priority of this Message, falling back to the DefaultPriority.
func (m *Message) Priority() uint8 {
	if m.Header == nil {
		return DefaultPriority
	}
	return m.Header.Priority
}

// Expires returns the point in time when this Message expires, relative to its reception. The bool is false
// for messages without TTL.
func (m *Message) Expires(received time.Time) (time.Time, bool) {
	if m.Header == nil || m.Header.TTL <= 0 {
		return time.Time{}, false
	}
	return received.Add(m.Header.TTL), true
}

// BodyString returns this Message's body as a string. The bool reports if the body was a string Value.
func (m *Message) BodyString() (string, bool) {
	if m.Body.Kind != BodyValue {
		return "", false
	}
	return m.Body.Value, true
}

func (m *Message) String() string {
	if s, ok := m.BodyString(); ok {
		return s
	}
	return m.Body.String()
}

// CheckValid returns an array of errors for incorrect data.
func (m *Message) CheckValid() (errs error) {
	if m.Header != nil {
		if m.Header.Priority > MaxPriority {
			errs = multierror.Append(errs,
				fmt.Errorf("Message: Priority %d exceeds %d", m.Header.Priority, MaxPriority))
		}
		if m.Header.TTL < 0 {
			errs = multierror.Append(errs, fmt.Errorf("Message: negative TTL %v", m.Header.TTL))
		}
	}

	for k := range m.ApplicationProperties {
		if k == "" {
			errs = multierror.Append(errs, fmt.Errorf("Message: empty application property key"))
		}
	}

	if bodyErr := m.Body.CheckValid(); bodyErr != nil {
		errs = multierror.Append(errs, bodyErr)
	}

	return
}

// Encode this Message into its CBOR representation.
func (m *Message) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := cboring.Marshal(m, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode a Message from a delivery's payload and check its validity.
func Decode(data []byte) (*Message, error) {
	r := bytes.NewReader(data)

	m := new(Message)
	if err := cboring.Unmarshal(m, r); err != nil {
		return nil, err
	} else if r.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after message", r.Len())
	}

	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalCbor writes this Message's CBOR representation.
func (m *Message) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	if m.Header == nil {
		if err := cboring.WriteArrayLength(0, w); err != nil {
			return err
		}
	} else {
		if err := cboring.WriteArrayLength(1, w); err != nil {
			return err
		}
		if err := cboring.Marshal(m.Header, w); err != nil {
			return err
		}
	}

	if m.Properties == nil {
		if err := cboring.WriteArrayLength(0, w); err != nil {
			return err
		}
	} else {
		if err := cboring.WriteArrayLength(1, w); err != nil {
			return err
		}
		if err := cboring.Marshal(m.Properties, w); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(m.ApplicationProperties))
	for k := range m.ApplicationProperties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := cboring.WriteMapPairLength(uint64(len(keys)), w); err != nil {
		return err
	}
	for _, k := range keys {
		if err := cboring.WriteTextString(k, w); err != nil {
			return err
		}
		if err := cboring.WriteTextString(m.ApplicationProperties[k], w); err != nil {
			return err
		}
	}

	return cboring.Marshal(&m.Body, w)
}

// UnmarshalCbor reads a Message from its CBOR representation.
func (m *Message) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("Message: expected array of 4 elements, got %d", n)
	}

	if present, err := readOptional(r); err != nil {
		return fmt.Errorf("Message: header: %w", err)
	} else if present {
		m.Header = new(Header)
		if err := cboring.Unmarshal(m.Header, r); err != nil {
			return fmt.Errorf("Message: header: %w", err)
		}
	}

	if present, err := readOptional(r); err != nil {
		return fmt.Errorf("Message: properties: %w", err)
	} else if present {
		m.Properties = new(Properties)
		if err := cboring.Unmarshal(m.Properties, r); err != nil {
			return fmt.Errorf("Message: properties: %w", err)
		}
	}

	n, err := cboring.ReadMapPairLength(r)
	if err != nil {
		return fmt.Errorf("Message: application properties: %w", err)
	}
	// Each pair takes at least two bytes, one per empty text string.
	if lr, ok := r.(interface{ Len() int }); ok && n > uint64(lr.Len())/2 {
		return fmt.Errorf("Message: application properties: %d pairs exceed the remaining %d bytes", n, lr.Len())
	}
	if n > 0 {
		m.ApplicationProperties = make(map[string]string)
	}
	for i := uint64(0); i < n; i++ {
		k, kErr := cboring.ReadTextString(r)
		if kErr != nil {
			return fmt.Errorf("Message: application properties: %w", kErr)
		}
		v, vErr := cboring.ReadTextString(r)
		if vErr != nil {
			return fmt.Errorf("Message: application properties: %w", vErr)
		}
		m.ApplicationProperties[k] = v
	}

	if err := cboring.Unmarshal(&m.Body, r); err != nil {
		return fmt.Errorf("Message: body: %w", err)
	}
	return nil
}

func readOptional(r io.Reader) (bool, error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return false, err
	} else if n > 1 {
		return false, fmt.Errorf("optional field has %d elements", n)
	}
	return n == 1, nil
}
