// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receiver

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// TransportTCP connects to a plain TCP address, e.g., "localhost:5672".
	TransportTCP = "tcp"

	// TransportWebSocket connects to a WebSocket URL, e.g., "ws://localhost:5673/".
	TransportWebSocket = "ws"
)

// Config of a Receiver.
type Config struct {
	// Address of the peer, a "host:port" pair or a WebSocket URL.
	Address string

	// Count of messages to receive before closing the connection. Zero means no limit.
	Count int

	// Source address of the link.
	Source string

	// Container ID of this client.
	Container string

	// Quiet disables printing of received messages.
	Quiet bool

	// Credit window to be granted to the sender.
	Credit int

	// Timeout for dialing and for a single iteration of the event loop.
	Timeout time.Duration

	// Transport is either TransportTCP or TransportWebSocket.
	Transport string

	// MaxPrintSize is the payload size from which on messages are no longer printed.
	MaxPrintSize int

	// MaxMessageSize is the largest accepted message in bytes. Zero means no limit.
	MaxMessageSize uint64
}

// DefaultConfig receives one message from the "examples" node of a local broker.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:5672",
		Count:        1,
		Source:       "examples",
		Container:    "ReceiveExample",
		Credit:       100,
		Timeout:      5 * time.Second,
		Transport:    TransportTCP,
		MaxPrintSize: 512,
	}
}

// CheckValid returns an array of errors for incorrect data.
func (c Config) CheckValid() (errs error) {
	switch c.Transport {
	case TransportTCP:
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("address %q: %w", c.Address, err))
		}

	case TransportWebSocket:
		if u, err := url.Parse(c.Address); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("address %q: %w", c.Address, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = multierror.Append(errs, fmt.Errorf("address %q is no WebSocket URL", c.Address))
		}

	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	if c.Count < 0 {
		errs = multierror.Append(errs, fmt.Errorf("count %d is negative", c.Count))
	}
	if c.Credit <= 0 || int64(c.Credit) > math.MaxUint32 {
		errs = multierror.Append(errs, fmt.Errorf("credit %d is out of range", c.Credit))
	}
	if c.Container == "" {
		errs = multierror.Append(errs, fmt.Errorf("container ID is empty"))
	}
	if c.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("timeout %v is not positive", c.Timeout))
	}
	if c.MaxPrintSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("max print size %d is negative", c.MaxPrintSize))
	}

	return
}

// hostname of the configured Address, advertised in the Open frame.
func (c Config) hostname() string {
	if c.Transport == TransportWebSocket {
		if u, err := url.Parse(c.Address); err == nil {
			return u.Hostname()
		}
		return ""
	}

	host, _, _ := net.SplitHostPort(c.Address)
	return host
}
