// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
	"github.com/dtn7/amqprecv/pkg/amqp/message"
)

const (
	peerChannel uint16 = 3
	peerHandle  uint32 = 7
)

// recorder is a Handler remembering all calls.
type recorder struct {
	msgs []*message.Message
	errs []error
}

func (r *recorder) OnMessage(msg *message.Message, err error) {
	r.msgs = append(r.msgs, msg)
	r.errs = append(r.errs, err)
}

func (r *recorder) calls() int {
	return len(r.msgs)
}

func mustHandle(t *testing.T, c *Connection, channel uint16, body frames.Performative) {
	t.Helper()
	if err := c.Handle(frames.Frame{Channel: channel, Body: body}); err != nil {
		t.Fatalf("Handling %v failed: %v", body, err)
	}
}

// expectFrames checks the types of all outgoing frames.
func expectFrames(t *testing.T, c *Connection, types ...frames.Performative) []frames.Frame {
	t.Helper()

	out := c.PopOutgoing()
	if len(out) != len(types) {
		t.Fatalf("Expected %d outgoing frames, got %d: %v", len(types), len(out), out)
	}
	for i, f := range out {
		if reflect.TypeOf(f.Body) != reflect.TypeOf(types[i]) {
			t.Fatalf("Outgoing frame %d: expected %T, got %v", i, types[i], f)
		}
	}
	return out
}

func textPayload(t *testing.T, text string) []byte {
	t.Helper()
	data, err := message.NewTextMessage(text).Encode()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// transfer creates a single-frame, unsettled delivery.
func transfer(t *testing.T, id uint32) *frames.Transfer {
	return &frames.Transfer{
		Handle:      peerHandle,
		DeliveryID:  frames.Uint32(id),
		DeliveryTag: []byte(fmt.Sprintf("tag-%d", id)),
		Payload:     textPayload(t, fmt.Sprintf("message %d", id)),
	}
}

// openLink creates a Connection with one Session and one receiving Link, all in active state.
func openLink(t *testing.T, sessionConfig SessionConfig, linkConfig LinkConfig) (*Connection, *Session, *Link) {
	t.Helper()

	c := NewConnection(DefaultConfig("test-receiver"))
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}

	s, err := c.NewSession(sessionConfig)
	if err != nil {
		t.Fatal(err)
	} else if err := s.Begin(); err != nil {
		t.Fatal(err)
	}

	if linkConfig.Name == "" {
		linkConfig.Name = "MyReceiver"
	}
	if linkConfig.Source == "" {
		linkConfig.Source = "examples"
	}

	l, err := s.NewReceiver(linkConfig)
	if err != nil {
		t.Fatal(err)
	} else if err := l.Attach(); err != nil {
		t.Fatal(err)
	} else if err := l.Flow(linkConfig.Credit); err != nil {
		t.Fatal(err)
	}

	expectFrames(t, c, &frames.Open{}, &frames.Begin{}, &frames.Attach{})

	mustHandle(t, c, 0, &frames.Open{ContainerID: "peer"})
	mustHandle(t, c, peerChannel, &frames.Begin{
		RemoteChannel:  frames.Uint16(s.Channel()),
		IncomingWindow: 100,
		OutgoingWindow: 100,
	})
	mustHandle(t, c, peerChannel, &frames.Attach{
		Name:   linkConfig.Name,
		Handle: peerHandle,
		Role:   frames.RoleSender,
		Source: &frames.Terminus{Address: linkConfig.Source},
	})

	out := expectFrames(t, c, &frames.Flow{})
	flow := out[0].Body.(*frames.Flow)
	if *flow.LinkCredit != linkConfig.Credit || *flow.Handle != l.Handle() || *flow.DeliveryCount != 0 {
		t.Fatalf("Unexpected initial flow %v", flow)
	}

	if c.State() != ConnectionOpened || s.State() != SessionActive || l.State() != LinkActive {
		t.Fatalf("Expected all active, got %v, %v, %v", c, s, l)
	}
	return c, s, l
}
