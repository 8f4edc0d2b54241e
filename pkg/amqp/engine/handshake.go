// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import "fmt"

// phase of a handshake, shared by connections, sessions and links. Each level maps these onto its own states.
type phase int

const (
	phaseUninit phase = iota
	phaseOpenSent
	phaseOpenRcvd
	phaseOpened
	phaseCloseSent
	phaseClosed
)

// handshake tracks both sides of a symmetric open/close exchange, e.g., Open/Close or Attach/Detach.
type handshake struct {
	localOpened  bool
	remoteOpened bool
	localClosed  bool
	remoteClosed bool
}

func (h *handshake) open() error {
	if h.localOpened {
		return fmt.Errorf("already opened")
	} else if h.localClosed {
		return fmt.Errorf("already closed")
	}

	h.localOpened = true
	return nil
}

func (h *handshake) remoteOpen() error {
	if h.remoteOpened {
		return fmt.Errorf("peer opened twice")
	} else if h.remoteClosed {
		return fmt.Errorf("peer opened after closing")
	}

	h.remoteOpened = true
	return nil
}

func (h *handshake) close() error {
	if !h.localOpened {
		return fmt.Errorf("not opened")
	} else if h.localClosed {
		return fmt.Errorf("already closed")
	}

	h.localClosed = true
	return nil
}

func (h *handshake) remoteClose() error {
	if h.remoteClosed {
		return fmt.Errorf("peer closed twice")
	}

	h.remoteClosed = true
	return nil
}

// terminate both sides without any further exchange.
func (h *handshake) terminate() {
	h.localOpened, h.remoteOpened = true, true
	h.localClosed, h.remoteClosed = true, true
}

// active is true between both sides having opened and either side closing.
func (h *handshake) active() bool {
	return h.localOpened && h.remoteOpened && !h.localClosed && !h.remoteClosed
}

func (h *handshake) phase() phase {
	switch {
	case h.localClosed && h.remoteClosed:
		return phaseClosed
	case h.remoteClosed:
		// The peer's close is always answered right away, so this is never observable for long.
		return phaseClosed
	case h.localClosed:
		return phaseCloseSent
	case h.localOpened && h.remoteOpened:
		return phaseOpened
	case h.localOpened:
		return phaseOpenSent
	case h.remoteOpened:
		return phaseOpenRcvd
	default:
		return phaseUninit
	}
}
