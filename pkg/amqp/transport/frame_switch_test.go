// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

func testFrames() []frames.Frame {
	return []frames.Frame{
		{Channel: 0, Body: &frames.Open{ContainerID: "test"}},
		{Channel: 0, Body: nil},
		{Channel: 1, Body: &frames.Begin{IncomingWindow: 10, OutgoingWindow: 10}},
		{Channel: 1, Body: &frames.Transfer{Handle: 0, DeliveryID: frames.Uint32(0), DeliveryTag: []byte("t"), Payload: []byte("payload")}},
		{Channel: 0, Body: &frames.Close{}},
	}
}

// exchangeFrames sends all frames from one FrameSwitch to another one and compares them.
func exchangeFrames(t *testing.T, from, to FrameSwitch, rounds int) {
	_, outgoing, _ := from.Exchange()
	incoming, _, errChan := to.Exchange()

	go func() {
		for i := 0; i < rounds; i++ {
			for _, f := range testFrames() {
				outgoing <- f
			}
		}
	}()

	for i := 0; i < rounds; i++ {
		for _, expected := range testFrames() {
			select {
			case err := <-errChan:
				t.Fatal(err)

			case f := <-incoming:
				if !reflect.DeepEqual(f, expected) {
					t.Fatalf("Expected %v, got %v", expected, f)
				}

			case <-time.After(time.Second):
				t.Fatal("timeout")
			}
		}
	}
}

func TestFrameSwitchReaderWriter(t *testing.T) {
	in, out := io.Pipe()
	fs := NewFrameSwitchReaderWriter(in, out, frames.DefaultLimits)

	exchangeFrames(t, fs, fs, 200)

	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err == nil {
		t.Fatal("Closing twice succeeded")
	}
}

func TestFrameSwitchReaderWriterProtocolHeader(t *testing.T) {
	var sink bytes.Buffer
	fs := NewFrameSwitchReaderWriter(strings.NewReader("HTTP/1.1 400 Bad Request\r\n"), &sink, frames.DefaultLimits)

	_, _, errChan := fs.Exchange()
	select {
	case err := <-errChan:
		if err == nil {
			t.Fatal("nil error")
		}

	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestFrameSwitchReaderWriterEOF(t *testing.T) {
	var data bytes.Buffer
	if err := frames.WriteProtocolHeader(&data); err != nil {
		t.Fatal(err)
	} else if err := frames.WriteFrame(frames.Frame{Body: &frames.Close{}}, frames.DefaultLimits, &data); err != nil {
		t.Fatal(err)
	}

	var sink bytes.Buffer
	fs := NewFrameSwitchReaderWriter(&data, &sink, frames.DefaultLimits)
	incoming, _, errChan := fs.Exchange()

	select {
	case f := <-incoming:
		if _, ok := f.Body.(*frames.Close); !ok {
			t.Fatalf("Expected close, got %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	select {
	case err := <-errChan:
		if err != io.EOF {
			t.Fatalf("Expected EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestFrameSwitchWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{WebSocketSubprotocol}}
	serverSwitch := make(chan FrameSwitch, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		serverSwitch <- NewFrameSwitchWebSocket(conn, frames.DefaultLimits)
	}))
	defer server.Close()

	conn, err := DialWebSocket("ws"+strings.TrimPrefix(server.URL, "http"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	client := NewFrameSwitchWebSocket(conn, frames.DefaultLimits)

	var srv FrameSwitch
	select {
	case srv = <-serverSwitch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	exchangeFrames(t, client, srv, 50)
	exchangeFrames(t, srv, client, 50)

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDialWebSocketSubprotocol(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conn, err := upgrader.Upgrade(w, r, nil); err == nil {
			_ = conn.Close()
		}
	}))
	defer server.Close()

	if conn, err := DialWebSocket("ws"+strings.TrimPrefix(server.URL, "http"), time.Second); err == nil {
		_ = conn.Close()
		t.Fatal("Dialing without negotiated subprotocol succeeded")
	}
}
