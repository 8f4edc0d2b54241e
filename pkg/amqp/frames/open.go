// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dtn7/cboring"
)

// Open negotiates connection parameters. It is always sent on channel zero.
type Open struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16

	// IdleTimeout is transmitted in milliseconds. Zero disables the idle timeout.
	IdleTimeout time.Duration
}

func (*Open) Descriptor() uint64 { return DescriptorOpen }

func (o Open) String() string {
	return fmt.Sprintf("OPEN(container-id=%s, hostname=%s, max-frame-size=%d, channel-max=%d, idle-time-out=%v)",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

func (o *Open) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 5); err != nil {
		return err
	}

	for _, s := range []string{o.ContainerID, o.Hostname} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}

	uints := []uint64{uint64(o.MaxFrameSize), uint64(o.ChannelMax), uint64(o.IdleTimeout / time.Millisecond)}
	for _, u := range uints {
		if err := cboring.WriteUInt(u, w); err != nil {
			return err
		}
	}
	return nil
}

func (o *Open) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, "open", 5); err != nil {
		return
	}

	if o.ContainerID, err = cboring.ReadTextString(r); err != nil {
		return
	} else if o.ContainerID == "" {
		return fmt.Errorf("open's container-id is mandatory")
	}
	if o.Hostname, err = cboring.ReadTextString(r); err != nil {
		return
	}

	if o.MaxFrameSize, err = readUInt32(r); err != nil {
		return
	}

	if channelMax, chErr := cboring.ReadUInt(r); chErr != nil {
		return chErr
	} else if channelMax > math.MaxUint16 {
		return fmt.Errorf("open's channel-max %d overflows", channelMax)
	} else {
		o.ChannelMax = uint16(channelMax)
	}

	if idle, idleErr := readUInt32(r); idleErr != nil {
		return idleErr
	} else {
		o.IdleTimeout = time.Duration(idle) * time.Millisecond
	}
	return
}
