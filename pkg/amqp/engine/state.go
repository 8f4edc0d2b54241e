// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int

const (
	ConnectionUninit ConnectionState = iota
	ConnectionOpenSent
	ConnectionOpenRcvd
	ConnectionOpened
	ConnectionCloseSent
	ConnectionClosed
)

func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionUninit:
		return "UNINIT"
	case ConnectionOpenSent:
		return "OPEN_SENT"
	case ConnectionOpenRcvd:
		return "OPEN_RCVD"
	case ConnectionOpened:
		return "OPENED"
	case ConnectionCloseSent:
		return "CLOSE_SENT"
	case ConnectionClosed:
		return "CLOSED"
	default:
		return "INVALID"
	}
}

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	SessionUnattached SessionState = iota
	SessionBeginSent
	SessionBeginRcvd
	SessionActive
	SessionEndSent
	SessionEnded
)

func (ss SessionState) String() string {
	switch ss {
	case SessionUnattached:
		return "UNATTACHED"
	case SessionBeginSent:
		return "BEGIN_SENT"
	case SessionBeginRcvd:
		return "BEGIN_RCVD"
	case SessionActive:
		return "ACTIVE"
	case SessionEndSent:
		return "END_SENT"
	case SessionEnded:
		return "ENDED"
	default:
		return "INVALID"
	}
}

// LinkState is the lifecycle state of a Link.
type LinkState int

const (
	LinkUnattached LinkState = iota
	LinkAttachSent
	LinkAttachRcvd
	LinkActive
	LinkDetachSent
	LinkDetached
)

func (ls LinkState) String() string {
	switch ls {
	case LinkUnattached:
		return "UNATTACHED"
	case LinkAttachSent:
		return "ATTACH_SENT"
	case LinkAttachRcvd:
		return "ATTACH_RCVD"
	case LinkActive:
		return "ACTIVE"
	case LinkDetachSent:
		return "DETACH_SENT"
	case LinkDetached:
		return "DETACHED"
	default:
		return "INVALID"
	}
}

// DeliveryState is the state of an incoming Delivery.
type DeliveryState int

const (
	DeliveryPartial DeliveryState = iota
	DeliveryReadable
	DeliverySettled
)

func (ds DeliveryState) String() string {
	switch ds {
	case DeliveryPartial:
		return "PARTIAL"
	case DeliveryReadable:
		return "READABLE"
	case DeliverySettled:
		return "SETTLED"
	default:
		return "INVALID"
	}
}
