// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Role of a link endpoint.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// SenderSettleMode is the sender's settlement policy for a link.
type SenderSettleMode uint8

const (
	SenderSettleUnsettled SenderSettleMode = 0
	SenderSettleSettled   SenderSettleMode = 1
	SenderSettleMixed     SenderSettleMode = 2
)

// ReceiverSettleMode is the receiver's settlement policy for a link.
type ReceiverSettleMode uint8

const (
	ReceiverSettleFirst  ReceiverSettleMode = 0
	ReceiverSettleSecond ReceiverSettleMode = 1
)

// Terminus is a link's Source or Target, identified by its node address.
type Terminus struct {
	Address string
}

func writeOptionalTerminus(t *Terminus, w io.Writer) error {
	if t == nil {
		return cboring.WriteArrayLength(0, w)
	}

	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.WriteTextString(t.Address, w)
}

func readOptionalTerminus(r io.Reader) (*Terminus, error) {
	if present, err := readOptional(r); err != nil || !present {
		return nil, err
	}

	addr, err := cboring.ReadTextString(r)
	if err != nil {
		return nil, err
	}
	return &Terminus{Address: addr}, nil
}

// Attach attaches a link endpoint, identified by its name, to a session's handle.
type Attach struct {
	Name          string
	Handle        uint32
	Role          Role
	SndSettleMode SenderSettleMode
	RcvSettleMode ReceiverSettleMode

	// Source and Target are nil if the node does not exist or cannot be created.
	Source *Terminus
	Target *Terminus

	// InitialDeliveryCount is only meaningful for the sender.
	InitialDeliveryCount uint32
	MaxMessageSize       uint64
}

func (*Attach) Descriptor() uint64 { return DescriptorAttach }

func (a Attach) String() string {
	src := "<nil>"
	if a.Source != nil {
		src = a.Source.Address
	}
	return fmt.Sprintf("ATTACH(name=%s, handle=%d, role=%v, source=%s)", a.Name, a.Handle, a.Role, src)
}

func (a *Attach) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 9); err != nil {
		return err
	}
	if err := cboring.WriteTextString(a.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(a.Handle), w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(bool(a.Role), w); err != nil {
		return err
	}

	for _, u := range []uint64{uint64(a.SndSettleMode), uint64(a.RcvSettleMode)} {
		if err := cboring.WriteUInt(u, w); err != nil {
			return err
		}
	}

	for _, t := range []*Terminus{a.Source, a.Target} {
		if err := writeOptionalTerminus(t, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(uint64(a.InitialDeliveryCount), w); err != nil {
		return err
	}
	return cboring.WriteUInt(a.MaxMessageSize, w)
}

func (a *Attach) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "attach", 9); err != nil {
		return
	}

	if a.Name, err = cboring.ReadTextString(r); err != nil {
		return
	}
	if a.Handle, err = readUInt32(r); err != nil {
		return
	}

	if role, roleErr := cboring.ReadBoolean(r); roleErr != nil {
		return roleErr
	} else {
		a.Role = Role(role)
	}

	if snd, sndErr := cboring.ReadUInt(r); sndErr != nil {
		return sndErr
	} else if snd > uint64(SenderSettleMixed) {
		return fmt.Errorf("attach's snd-settle-mode %d is invalid", snd)
	} else {
		a.SndSettleMode = SenderSettleMode(snd)
	}

	if rcv, rcvErr := cboring.ReadUInt(r); rcvErr != nil {
		return rcvErr
	} else if rcv > uint64(ReceiverSettleSecond) {
		return fmt.Errorf("attach's rcv-settle-mode %d is invalid", rcv)
	} else {
		a.RcvSettleMode = ReceiverSettleMode(rcv)
	}

	if a.Source, err = readOptionalTerminus(r); err != nil {
		return
	}
	if a.Target, err = readOptionalTerminus(r); err != nil {
		return
	}

	if a.InitialDeliveryCount, err = readUInt32(r); err != nil {
		return
	}
	a.MaxMessageSize, err = cboring.ReadUInt(r)
	return
}
