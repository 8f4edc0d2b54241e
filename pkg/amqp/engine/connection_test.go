// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

func TestConnectionOpenClose(t *testing.T) {
	c := NewConnection(Config{ContainerID: "test", MaxFrameSize: 4096, IdleTimeout: time.Minute})
	if c.State() != ConnectionUninit {
		t.Fatalf("Expected UNINIT, got %v", c.State())
	}

	if err := c.Open(); err != nil {
		t.Fatal(err)
	} else if err := c.Open(); err == nil {
		t.Fatal("Opening twice succeeded")
	}

	out := expectFrames(t, c, &frames.Open{})
	if open := out[0].Body.(*frames.Open); open.ContainerID != "test" || open.IdleTimeout != time.Minute {
		t.Fatalf("Unexpected open %v", open)
	}
	if c.State() != ConnectionOpenSent {
		t.Fatalf("Expected OPEN_SENT, got %v", c.State())
	}

	mustHandle(t, c, 0, &frames.Open{ContainerID: "peer", MaxFrameSize: 1024, IdleTimeout: 10 * time.Second})
	if c.State() != ConnectionOpened {
		t.Fatalf("Expected OPENED, got %v", c.State())
	}
	if c.RemoteIdleTimeout() != 10*time.Second || c.RemoteContainerID() != "peer" || c.MaxFrameSize() != 1024 {
		t.Fatalf("Unexpected remote parameters: %v, %s, %d", c.RemoteIdleTimeout(), c.RemoteContainerID(), c.MaxFrameSize())
	}

	// Heartbeats change nothing.
	mustHandle(t, c, 0, nil)
	expectFrames(t, c)

	if err := c.Close(nil); err != nil {
		t.Fatal(err)
	}
	expectFrames(t, c, &frames.Close{})
	if c.State() != ConnectionCloseSent {
		t.Fatalf("Expected CLOSE_SENT, got %v", c.State())
	}

	mustHandle(t, c, 0, &frames.Close{})
	if !c.Closed() || c.Error() != nil {
		t.Fatalf("Expected cleanly closed connection, got %v, %v", c, c.Error())
	}
	expectFrames(t, c)
}

func TestConnectionFrameBeforeOpen(t *testing.T) {
	c := NewConnection(DefaultConfig("test"))
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	s, _ := c.NewSession(DefaultSessionConfig())
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	expectFrames(t, c, &frames.Open{}, &frames.Begin{})

	err := c.Handle(frames.Frame{Channel: 0, Body: &frames.Begin{RemoteChannel: frames.Uint16(0)}})

	var amqpErr *frames.Error
	if !errors.As(err, &amqpErr) || amqpErr.Condition != frames.ErrorIllegalState {
		t.Fatalf("Expected illegal state, got %v", err)
	}

	out := expectFrames(t, c, &frames.Close{})
	if cls := out[0].Body.(*frames.Close); cls.Error == nil || cls.Error.Condition != frames.ErrorIllegalState {
		t.Fatalf("Unexpected close %v", cls)
	}

	if !c.Closed() || s.State() != SessionEnded {
		t.Fatalf("Unexpected states %v, %v", c, s)
	}

	// Everything afterwards is discarded.
	mustHandle(t, c, 0, &frames.Open{ContainerID: "peer"})
	expectFrames(t, c)
}

func TestConnectionRemoteClose(t *testing.T) {
	c, s, l := openLink(t, DefaultSessionConfig(), LinkConfig{Credit: 10})

	mustHandle(t, c, 0, &frames.Close{Error: frames.NewError(frames.ErrorConnectionForced, "shutdown")})

	out := expectFrames(t, c, &frames.Close{})
	if cls := out[0].Body.(*frames.Close); cls.Error != nil {
		t.Fatalf("Unexpected close answer %v", cls)
	}

	if !c.Closed() || s.State() != SessionEnded || l.State() != LinkDetached {
		t.Fatalf("Unexpected states %v, %v, %v", c, s, l)
	}

	var amqpErr *frames.Error
	if !errors.As(c.Error(), &amqpErr) || amqpErr.Condition != frames.ErrorConnectionForced {
		t.Fatalf("Unexpected connection error %v", c.Error())
	}
}

func TestConnectionPassiveOpen(t *testing.T) {
	c := NewConnection(DefaultConfig("test"))

	mustHandle(t, c, 0, &frames.Open{ContainerID: "peer"})
	expectFrames(t, c, &frames.Open{})

	if c.State() != ConnectionOpened {
		t.Fatalf("Expected OPENED, got %v", c.State())
	}
}

func TestConnectionUnknownChannel(t *testing.T) {
	c := NewConnection(DefaultConfig("test"))
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	mustHandle(t, c, 0, &frames.Open{ContainerID: "peer"})
	expectFrames(t, c, &frames.Open{})

	if err := c.Handle(frames.Frame{Channel: 9, Body: &frames.End{}}); err == nil {
		t.Fatal("Frame for unknown channel was accepted")
	}
	if !c.Closed() {
		t.Fatalf("Expected CLOSED, got %v", c.State())
	}
}

func TestConnectionChannelAllocation(t *testing.T) {
	c := NewConnection(Config{ContainerID: "test", ChannelMax: 2})

	for i := uint16(0); i <= 2; i++ {
		if s, err := c.NewSession(DefaultSessionConfig()); err != nil {
			t.Fatal(err)
		} else if s.Channel() != i {
			t.Fatalf("Expected channel %d, got %d", i, s.Channel())
		}
	}

	if _, err := c.NewSession(DefaultSessionConfig()); err == nil {
		t.Fatal("Allocating a channel above the maximum succeeded")
	}

	if sessions := c.Sessions(); len(sessions) != 3 || sessions[2].Channel() != 2 {
		t.Fatalf("Unexpected sessions %v", sessions)
	}
}

func TestConnectionNoContainerID(t *testing.T) {
	if err := NewConnection(Config{}).Open(); err == nil {
		t.Fatal("Opening without a container ID succeeded")
	}
}
