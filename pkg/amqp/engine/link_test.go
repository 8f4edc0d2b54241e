// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

func TestLinkAcceptAndRefill(t *testing.T) {
	rec := new(recorder)
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 4, Handler: rec})

	for i := uint32(0); i < 4; i++ {
		mustHandle(t, c, peerChannel, transfer(t, i))
	}
	expectFrames(t, c)

	c.Dispatch()

	out := expectFrames(t, c,
		&frames.Disposition{}, &frames.Disposition{}, &frames.Disposition{}, &frames.Disposition{}, &frames.Flow{})

	for i := 0; i < 4; i++ {
		disp := out[i].Body.(*frames.Disposition)
		if disp.First != uint32(i) || !disp.Settled || disp.Role != frames.RoleReceiver {
			t.Fatalf("Unexpected disposition %v", disp)
		} else if _, ok := disp.State.(*frames.Accepted); !ok {
			t.Fatalf("Disposition's state is not accepted: %v", disp.State)
		}
	}

	flow := out[4].Body.(*frames.Flow)
	if *flow.LinkCredit != 4 || *flow.DeliveryCount != 4 || *flow.Handle != l.Handle() {
		t.Fatalf("Unexpected flow %v", flow)
	}

	if rec.calls() != 4 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
	for i, msg := range rec.msgs {
		if rec.errs[i] != nil {
			t.Fatal(rec.errs[i])
		} else if s, _ := msg.BodyString(); s != fmt.Sprintf("message %d", i) {
			t.Fatalf("Unexpected message %q", s)
		}
	}

	if l.Credit() != 4 || l.DeliveryCount() != 4 || l.Accepted() != 4 {
		t.Fatalf("Unexpected link state: credit %d, delivery count %d, accepted %d",
			l.Credit(), l.DeliveryCount(), l.Accepted())
	}

	// Nothing to dispatch, nothing to send.
	c.Dispatch()
	expectFrames(t, c)
}

func TestLinkReceiveLimit(t *testing.T) {
	rec := new(recorder)
	c, s, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 100, Limit: 1, Handler: rec})

	mustHandle(t, c, peerChannel, transfer(t, 0))
	mustHandle(t, c, peerChannel, transfer(t, 1))
	c.Dispatch()

	expectFrames(t, c, &frames.Disposition{}, &frames.Detach{}, &frames.End{}, &frames.Close{})

	if rec.calls() != 1 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
	if l.State() != LinkDetachSent || s.State() != SessionEndSent || c.State() != ConnectionCloseSent {
		t.Fatalf("Unexpected states: %v, %v, %v", l, s, c)
	}

	// Late transfers are discarded.
	mustHandle(t, c, peerChannel, transfer(t, 2))
	c.Dispatch()
	expectFrames(t, c)

	mustHandle(t, c, peerChannel, &frames.Detach{Handle: peerHandle, Closed: true})
	mustHandle(t, c, peerChannel, &frames.End{})
	mustHandle(t, c, 0, &frames.Close{})
	expectFrames(t, c)

	if !c.Closed() || c.Error() != nil {
		t.Fatalf("Connection is not closed cleanly: %v, %v", c, c.Error())
	}
	if l.State() != LinkDetached || s.State() != SessionEnded {
		t.Fatalf("Unexpected states: %v, %v", l, s)
	}
	if rec.calls() != 1 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
}

func TestLinkUnknownContinuation(t *testing.T) {
	rec := new(recorder)
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: rec})

	err := c.Handle(frames.Frame{Channel: peerChannel, Body: &frames.Transfer{
		Handle:      peerHandle,
		DeliveryTag: []byte("unknown"),
		Payload:     textPayload(t, "orphan"),
	}})

	var amqpErr *frames.Error
	if !errors.As(err, &amqpErr) || amqpErr.Condition != frames.ErrorIllegalState {
		t.Fatalf("Expected illegal state, got %v", err)
	}

	out := expectFrames(t, c, &frames.Detach{}, &frames.End{}, &frames.Close{})
	if detach := out[0].Body.(*frames.Detach); detach.Error == nil || detach.Error.Condition != frames.ErrorIllegalState {
		t.Fatalf("Unexpected detach %v", detach)
	}

	if l.State() != LinkDetachSent {
		t.Fatalf("Expected DETACH_SENT, got %v", l.State())
	}

	c.Dispatch()
	if rec.calls() != 0 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
}

func TestLinkReassembly(t *testing.T) {
	payload := textPayload(t, "a message long enough to be split across multiple transfer frames")

	for _, fragments := range []int{1, 2, 3, 7, len(payload)} {
		rec := new(recorder)
		c, _, _ := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: rec})

		size := (len(payload) + fragments - 1) / fragments
		for i, off := 0, 0; off < len(payload); i, off = i+1, off+size {
			end := off + size
			if end > len(payload) {
				end = len(payload)
			}

			tr := &frames.Transfer{
				Handle:  peerHandle,
				More:    end < len(payload),
				Payload: payload[off:end],
			}
			if i == 0 {
				tr.DeliveryID = frames.Uint32(0)
				tr.DeliveryTag = []byte("fragmented")
			}
			mustHandle(t, c, peerChannel, tr)

			if tr.More {
				c.Dispatch()
				if rec.calls() != 0 {
					t.Fatalf("%d fragments: handler was called for a partial delivery", fragments)
				}
			}
		}

		c.Dispatch()
		expectFrames(t, c, &frames.Disposition{})

		if rec.calls() != 1 {
			t.Fatalf("%d fragments: handler was called %d times", fragments, rec.calls())
		} else if rec.errs[0] != nil {
			t.Fatalf("%d fragments: %v", fragments, rec.errs[0])
		} else if s, _ := rec.msgs[0].BodyString(); s != "a message long enough to be split across multiple transfer frames" {
			t.Fatalf("%d fragments: unexpected message %q", fragments, s)
		}
	}
}

func TestLinkContinuationWithTag(t *testing.T) {
	rec := new(recorder)
	c, _, _ := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: rec})

	payload := textPayload(t, "tagged")
	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle: peerHandle, DeliveryID: frames.Uint32(0), DeliveryTag: []byte("a"), More: true, Payload: payload[:3]})
	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle: peerHandle, DeliveryTag: []byte("a"), Payload: payload[3:]})

	c.Dispatch()
	if rec.calls() != 1 || rec.errs[0] != nil {
		t.Fatalf("Unexpected handler calls: %d, %v", rec.calls(), rec.errs)
	}

	// A continuation for a different tag while another delivery is partial.
	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle: peerHandle, DeliveryID: frames.Uint32(1), DeliveryTag: []byte("b"), More: true, Payload: payload[:3]})
	if err := c.Handle(frames.Frame{Channel: peerChannel, Body: &frames.Transfer{
		Handle: peerHandle, DeliveryTag: []byte("c"), Payload: payload[3:]}}); err == nil {
		t.Fatal("Continuation with a foreign tag was accepted")
	}
}

func TestLinkCreditOverrun(t *testing.T) {
	rec := new(recorder)
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 2, Handler: rec})

	mustHandle(t, c, peerChannel, transfer(t, 0))
	mustHandle(t, c, peerChannel, transfer(t, 1))

	if l.Credit() != 0 {
		t.Fatalf("Expected no remaining credit, got %d", l.Credit())
	}

	err := c.Handle(frames.Frame{Channel: peerChannel, Body: transfer(t, 2)})

	var amqpErr *frames.Error
	if !errors.As(err, &amqpErr) || amqpErr.Condition != frames.ErrorTransferLimitExceeded {
		t.Fatalf("Expected transfer limit exceeded, got %v", err)
	}

	out := expectFrames(t, c, &frames.Detach{}, &frames.End{}, &frames.Close{})
	if detach := out[0].Body.(*frames.Detach); detach.Error.Condition != frames.ErrorTransferLimitExceeded {
		t.Fatalf("Unexpected detach %v", detach)
	}

	// Pending deliveries of a failed link are never dispatched.
	c.Dispatch()
	if rec.calls() != 0 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
}

func TestLinkCreditAcrossGrants(t *testing.T) {
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 2, Handler: new(recorder)})

	for round := uint32(0); round < 5; round++ {
		mustHandle(t, c, peerChannel, transfer(t, 2*round))
		mustHandle(t, c, peerChannel, transfer(t, 2*round+1))
		c.Dispatch()

		out := expectFrames(t, c, &frames.Disposition{}, &frames.Disposition{}, &frames.Flow{})
		if flow := out[2].Body.(*frames.Flow); *flow.DeliveryCount != 2*round+2 || *flow.LinkCredit != 2 {
			t.Fatalf("Round %d: unexpected flow %v", round, flow)
		}
	}

	if l.DeliveryCount() != 10 {
		t.Fatalf("Expected delivery count 10, got %d", l.DeliveryCount())
	}
}

func TestLinkRefillThreshold(t *testing.T) {
	tests := []struct {
		credit    uint32
		threshold uint32
		received  uint32
		refill    bool
	}{
		{10, 0, 5, false},
		{10, 0, 6, true},
		{10, 8, 3, true},
		{10, 8, 2, false},
		{1, 0, 1, true},
		{100, 0, 50, false},
		{100, 0, 51, true},
	}

	for _, test := range tests {
		c, _, _ := openLink(t, DefaultSessionConfig(),
			LinkConfig{Credit: test.credit, RefillThreshold: test.threshold, Handler: new(recorder)})

		for i := uint32(0); i < test.received; i++ {
			mustHandle(t, c, peerChannel, transfer(t, i))
		}
		c.Dispatch()

		out := c.PopOutgoing()
		flows := 0
		for _, f := range out {
			if _, ok := f.Body.(*frames.Flow); ok {
				flows++
			}
		}

		if expected := map[bool]int{false: 0, true: 1}[test.refill]; flows != expected {
			t.Fatalf("Credit %d, threshold %d, %d received: expected %d flows, got %d",
				test.credit, test.threshold, test.received, expected, flows)
		}
		if len(out) != int(test.received)+flows {
			t.Fatalf("Unexpected frames: %v", out)
		}
	}
}

func TestLinkPreSettled(t *testing.T) {
	rec := new(recorder)
	c, _, _ := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: rec})

	tr := transfer(t, 0)
	tr.Settled = true
	mustHandle(t, c, peerChannel, tr)
	mustHandle(t, c, peerChannel, transfer(t, 1))
	c.Dispatch()

	out := expectFrames(t, c, &frames.Disposition{})
	if disp := out[0].Body.(*frames.Disposition); disp.First != 1 {
		t.Fatalf("Unexpected disposition %v", disp)
	}

	if rec.calls() != 2 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
}

func TestLinkDecodeError(t *testing.T) {
	rec := new(recorder)
	c, _, _ := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: rec})

	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle:      peerHandle,
		DeliveryID:  frames.Uint32(0),
		DeliveryTag: []byte("garbage"),
		Payload:     []byte("this is no message"),
	})
	mustHandle(t, c, peerChannel, transfer(t, 1))
	c.Dispatch()

	out := expectFrames(t, c, &frames.Disposition{}, &frames.Disposition{})
	if disp := out[0].Body.(*frames.Disposition); disp.First != 0 {
		t.Fatalf("Unexpected disposition %v", disp)
	} else if _, ok := disp.State.(*frames.Accepted); !ok {
		t.Fatalf("Malformed delivery was not accepted: %v", disp.State)
	}

	if rec.calls() != 2 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}

	var decErr *DecodeError
	if rec.msgs[0] != nil || !errors.As(rec.errs[0], &decErr) || !bytes.Equal(decErr.Tag, []byte("garbage")) {
		t.Fatalf("Expected decode error, got %v, %v", rec.msgs[0], rec.errs[0])
	}
	if rec.msgs[1] == nil || rec.errs[1] != nil {
		t.Fatalf("Expected message, got %v, %v", rec.msgs[1], rec.errs[1])
	}
}

func TestLinkAborted(t *testing.T) {
	rec := new(recorder)
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: rec})

	payload := textPayload(t, "aborted")
	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle: peerHandle, DeliveryID: frames.Uint32(0), DeliveryTag: []byte("x"), More: true, Payload: payload[:2]})
	mustHandle(t, c, peerChannel, &frames.Transfer{Handle: peerHandle, Aborted: true})
	mustHandle(t, c, peerChannel, transfer(t, 1))
	c.Dispatch()

	expectFrames(t, c, &frames.Disposition{})
	if rec.calls() != 1 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
	if l.DeliveryCount() != 2 || l.Credit() != 8 {
		t.Fatalf("Unexpected delivery count %d or credit %d", l.DeliveryCount(), l.Credit())
	}
}

func TestLinkDuplicateTag(t *testing.T) {
	c, _, _ := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: new(recorder)})

	mustHandle(t, c, peerChannel, transfer(t, 0))

	dup := transfer(t, 1)
	dup.DeliveryTag = []byte("tag-0")
	if err := c.Handle(frames.Frame{Channel: peerChannel, Body: dup}); err == nil {
		t.Fatal("Duplicate delivery-tag was accepted")
	}
}

func TestLinkRemoteDetach(t *testing.T) {
	c, s, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: new(recorder)})

	mustHandle(t, c, peerChannel, &frames.Detach{
		Handle: peerHandle,
		Closed: true,
		Error:  frames.NewError(frames.ErrorNotFound, "no such node"),
	})

	out := expectFrames(t, c, &frames.Detach{}, &frames.End{}, &frames.Close{})
	if detach := out[0].Body.(*frames.Detach); detach.Error != nil || detach.Handle != l.Handle() {
		t.Fatalf("Unexpected detach answer %v", detach)
	}

	if l.State() != LinkDetached || s.State() != SessionEndSent {
		t.Fatalf("Unexpected states %v, %v", l, s)
	}

	var amqpErr *frames.Error
	if !errors.As(l.Error(), &amqpErr) || amqpErr.Condition != frames.ErrorNotFound {
		t.Fatalf("Unexpected link error %v", l.Error())
	}
}

func TestLinkSenderFlow(t *testing.T) {
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10, Handler: new(recorder)})

	mustHandle(t, c, peerChannel, transfer(t, 0))

	// The sender reports its delivery count advanced by three, e.g., after draining.
	mustHandle(t, c, peerChannel, &frames.Flow{
		NextIncomingID: frames.Uint32(0),
		IncomingWindow: 100,
		NextOutgoingID: 1,
		OutgoingWindow: 100,
		Handle:         frames.Uint32(peerHandle),
		DeliveryCount:  frames.Uint32(4),
		LinkCredit:     frames.Uint32(6),
		Available:      frames.Uint32(42),
		Echo:           true,
	})

	if l.Available() != 42 || l.DeliveryCount() != 4 || l.Credit() != 6 {
		t.Fatalf("Unexpected link state: available %d, delivery count %d, credit %d",
			l.Available(), l.DeliveryCount(), l.Credit())
	}

	out := expectFrames(t, c, &frames.Flow{})
	if flow := out[0].Body.(*frames.Flow); *flow.LinkCredit != 6 || *flow.DeliveryCount != 4 || *flow.NextIncomingID != 1 {
		t.Fatalf("Unexpected echo flow %v", flow)
	}
}

func TestLinkPendingFlow(t *testing.T) {
	c := NewConnection(DefaultConfig("test-receiver"))
	s, _ := c.NewSession(DefaultSessionConfig())
	l, _ := s.NewReceiver(LinkConfig{Name: "MyReceiver", Source: "examples"})

	if err := l.Flow(0); err == nil {
		t.Fatal("Granting zero credit succeeded")
	}
	if err := l.Flow(5); err != nil {
		t.Fatal(err)
	}
	if len(c.PopOutgoing()) != 0 {
		t.Fatal("Flow was sent before attaching")
	}
}

func TestLinkSenderFlowDuringDelivery(t *testing.T) {
	rec := new(recorder)
	c, _, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 2, RefillThreshold: 2, Handler: rec})

	payload := textPayload(t, "split in two")
	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle:      peerHandle,
		DeliveryID:  frames.Uint32(0),
		DeliveryTag: []byte("tag-0"),
		More:        true,
		Payload:     payload[:4],
	})

	// The sender counts the delivery with its first transfer.
	mustHandle(t, c, peerChannel, &frames.Flow{
		NextIncomingID: frames.Uint32(0),
		IncomingWindow: 100,
		NextOutgoingID: 1,
		OutgoingWindow: 100,
		Handle:         frames.Uint32(peerHandle),
		DeliveryCount:  frames.Uint32(1),
		LinkCredit:     frames.Uint32(1),
	})
	mustHandle(t, c, peerChannel, &frames.Transfer{Handle: peerHandle, Payload: payload[4:]})

	if l.DeliveryCount() != 1 || l.Credit() != 1 {
		t.Fatalf("Unexpected link state: delivery count %d, credit %d", l.DeliveryCount(), l.Credit())
	}

	c.Dispatch()
	out := expectFrames(t, c, &frames.Disposition{}, &frames.Flow{})
	if flow := out[1].Body.(*frames.Flow); *flow.DeliveryCount != 1 || *flow.LinkCredit != 2 {
		t.Fatalf("Unexpected refill %v", flow)
	}

	// Both deliveries are within the granted credit.
	mustHandle(t, c, peerChannel, transfer(t, 1))
	mustHandle(t, c, peerChannel, transfer(t, 2))
	c.Dispatch()

	out = expectFrames(t, c, &frames.Disposition{}, &frames.Disposition{}, &frames.Flow{})
	if flow := out[2].Body.(*frames.Flow); *flow.DeliveryCount != 3 || *flow.LinkCredit != 2 {
		t.Fatalf("Unexpected refill %v", flow)
	}

	if rec.calls() != 3 {
		t.Fatalf("Handler was called %d times", rec.calls())
	} else if s, _ := rec.msgs[0].BodyString(); s != "split in two" {
		t.Fatalf("Unexpected message %q", s)
	}
}

func TestLinkMaxMessageSize(t *testing.T) {
	payload := textPayload(t, "a message exceeding the size limit of this link")

	rec := new(recorder)
	c := NewConnection(DefaultConfig("test-receiver"))
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	s, _ := c.NewSession(DefaultSessionConfig())
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	l, _ := s.NewReceiver(LinkConfig{Name: "MyReceiver", Source: "examples", MaxMessageSize: 16, Handler: rec})
	if err := l.Attach(); err != nil {
		t.Fatal(err)
	}

	out := expectFrames(t, c, &frames.Open{}, &frames.Begin{}, &frames.Attach{})
	if attach := out[2].Body.(*frames.Attach); attach.MaxMessageSize != 16 {
		t.Fatalf("Attach announced max message size %d", attach.MaxMessageSize)
	}

	mustHandle(t, c, 0, &frames.Open{ContainerID: "peer"})
	mustHandle(t, c, peerChannel, &frames.Begin{
		RemoteChannel:  frames.Uint16(s.Channel()),
		IncomingWindow: 100,
		OutgoingWindow: 100,
	})
	mustHandle(t, c, peerChannel, &frames.Attach{
		Name:   "MyReceiver",
		Handle: peerHandle,
		Role:   frames.RoleSender,
		Source: &frames.Terminus{Address: "examples"},
	})
	if err := l.Flow(10); err != nil {
		t.Fatal(err)
	}
	expectFrames(t, c, &frames.Flow{})

	// The first fragment fits, the second one passes the limit.
	mustHandle(t, c, peerChannel, &frames.Transfer{
		Handle:      peerHandle,
		DeliveryID:  frames.Uint32(0),
		DeliveryTag: []byte("tag-0"),
		More:        true,
		Payload:     payload[:10],
	})
	err := c.Handle(frames.Frame{Channel: peerChannel, Body: &frames.Transfer{Handle: peerHandle, Payload: payload[10:]}})

	var amqpErr *frames.Error
	if !errors.As(err, &amqpErr) || amqpErr.Condition != frames.ErrorMessageSizeExceeded {
		t.Fatalf("Expected message size exceeded, got %v", err)
	}

	out = expectFrames(t, c, &frames.Detach{}, &frames.End{}, &frames.Close{})
	if detach := out[0].Body.(*frames.Detach); detach.Error.Condition != frames.ErrorMessageSizeExceeded {
		t.Fatalf("Unexpected detach %v", detach)
	}

	c.Dispatch()
	if rec.calls() != 0 {
		t.Fatalf("Handler was called %d times", rec.calls())
	}
}
