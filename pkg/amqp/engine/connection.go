// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// Config of a Connection, advertised in its Open.
type Config struct {
	// ContainerID identifies this container; it is mandatory.
	ContainerID string

	// Hostname of the peer, as intended by this client.
	Hostname string

	// MaxFrameSize is the largest frame this Connection accepts.
	MaxFrameSize uint32

	// ChannelMax is the highest channel number usable by Sessions.
	ChannelMax uint16

	// IdleTimeout requests the peer to send frames at least this often. Zero disables it.
	IdleTimeout time.Duration
}

// DefaultConfig for a Connection of the given container.
func DefaultConfig(containerID string) Config {
	return Config{
		ContainerID:  containerID,
		MaxFrameSize: frames.DefaultLimits.MaxFrameSize,
		ChannelMax:   255,
	}
}

var connectionStates = map[phase]ConnectionState{
	phaseUninit:    ConnectionUninit,
	phaseOpenSent:  ConnectionOpenSent,
	phaseOpenRcvd:  ConnectionOpenRcvd,
	phaseOpened:    ConnectionOpened,
	phaseCloseSent: ConnectionCloseSent,
	phaseClosed:    ConnectionClosed,
}

// Connection is the root state machine, multiplexing Sessions over one network connection.
//
// It owns the single queue of outgoing frames, to be fetched by PopOutgoing.
type Connection struct {
	config Config
	hs     handshake

	sessions       map[uint16]*Session
	remoteChannels map[uint16]*Session

	remoteOpen *frames.Open
	err        error

	outgoing []frames.Frame
}

// NewConnection creates a Connection in the UNINIT state.
func NewConnection(config Config) *Connection {
	return &Connection{
		config:         config,
		sessions:       make(map[uint16]*Session),
		remoteChannels: make(map[uint16]*Session),
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("CONNECTION(%s, %v)", c.config.ContainerID, c.State())
}

func (c *Connection) log() *log.Entry {
	return log.WithField("connection", c.config.ContainerID)
}

// State of this Connection.
func (c *Connection) State() ConnectionState {
	return connectionStates[c.hs.phase()]
}

// Closed is true after both peers have closed this Connection or after a fatal error.
func (c *Connection) Closed() bool {
	return c.State() == ConnectionClosed
}

// Error is the condition this Connection was closed with, either locally or by the peer.
func (c *Connection) Error() error {
	return c.err
}

// RemoteIdleTimeout is the peer's requested idle timeout. Zero means none or no Open was received yet.
func (c *Connection) RemoteIdleTimeout() time.Duration {
	if c.remoteOpen == nil {
		return 0
	}
	return c.remoteOpen.IdleTimeout
}

// RemoteContainerID is the peer's container ID, available after its Open.
func (c *Connection) RemoteContainerID() string {
	if c.remoteOpen == nil {
		return ""
	}
	return c.remoteOpen.ContainerID
}

// MaxFrameSize is the smaller one of both peers' maximum frame sizes.
func (c *Connection) MaxFrameSize() uint32 {
	size := c.config.MaxFrameSize
	if c.remoteOpen != nil && c.remoteOpen.MaxFrameSize > 0 && (size == 0 || c.remoteOpen.MaxFrameSize < size) {
		size = c.remoteOpen.MaxFrameSize
	}
	return size
}

// Open this Connection by sending an Open frame, UNINIT to OPEN_SENT.
func (c *Connection) Open() error {
	if c.config.ContainerID == "" {
		return fmt.Errorf("container ID is mandatory")
	}
	if err := c.hs.open(); err != nil {
		return fmt.Errorf("opening %v failed: %w", c, err)
	}

	c.enqueue(0, &frames.Open{
		ContainerID:  c.config.ContainerID,
		Hostname:     c.config.Hostname,
		MaxFrameSize: c.config.MaxFrameSize,
		ChannelMax:   c.config.ChannelMax,
		IdleTimeout:  c.config.IdleTimeout,
	})
	c.log().Debug("Opening connection")
	return nil
}

// Close this Connection by sending a Close frame, optionally carrying an error condition.
func (c *Connection) Close(e *frames.Error) error {
	if err := c.hs.close(); err != nil {
		return fmt.Errorf("closing %v failed: %w", c, err)
	}

	if e != nil {
		c.err = e
	}
	c.enqueue(0, &frames.Close{Error: e})
	c.log().WithField("error", e).Debug("Closing connection")

	if c.hs.remoteClosed {
		c.release()
	}
	return nil
}

// NewSession creates a new Session on the lowest free channel. It must be started by its Begin method.
func (c *Connection) NewSession(config SessionConfig) (*Session, error) {
	if c.hs.localClosed {
		return nil, fmt.Errorf("%v is closing", c)
	}

	for ch := 0; ch <= int(c.config.ChannelMax); ch++ {
		if s, exists := c.sessions[uint16(ch)]; exists && s.State() != SessionEnded {
			continue
		}

		s := newSession(c, uint16(ch), config)
		c.sessions[uint16(ch)] = s
		return s, nil
	}
	return nil, fmt.Errorf("%v has no free channel up to %d", c, c.config.ChannelMax)
}

// Sessions of this Connection, ordered by their channel.
func (c *Connection) Sessions() []*Session {
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].channel < sessions[j].channel })
	return sessions
}

// Handle an incoming Frame. A returned error reports a protocol violation, which has already been answered
// by closing the affected Link, Session or this Connection.
func (c *Connection) Handle(f frames.Frame) (err error) {
	defer c.cascade()

	if f.IsEmpty() {
		return nil
	}

	if c.Closed() {
		c.log().WithField("frame", f).Debug("Discarding frame for closed connection")
		return nil
	}

	switch body := f.Body.(type) {
	case *frames.Open:
		return c.handleOpen(f.Channel, body)

	case *frames.Close:
		return c.handleClose(body)
	}

	if c.State() != ConnectionOpened {
		if c.hs.localClosed {
			c.log().WithField("frame", f).Debug("Discarding frame while closing")
			return nil
		}
		return c.fail(frames.NewError(frames.ErrorIllegalState, "received %v before the connection was opened", f.Body))
	}

	if begin, ok := f.Body.(*frames.Begin); ok {
		return c.handleBegin(f.Channel, begin)
	}

	s, exists := c.remoteChannels[f.Channel]
	if !exists {
		return c.fail(frames.NewError(frames.ErrorNotFound, "no session on channel %d", f.Channel))
	}
	return s.handle(f.Body)
}

func (c *Connection) handleOpen(channel uint16, open *frames.Open) error {
	if channel != 0 {
		return c.fail(frames.NewError(frames.ErrorFramingError, "open on channel %d", channel))
	}
	if err := c.hs.remoteOpen(); err != nil {
		return c.fail(frames.NewError(frames.ErrorIllegalState, "%v", err))
	}

	c.remoteOpen = open
	c.log().WithField("open", open).Debug("Peer opened connection")

	if !c.hs.localOpened {
		return c.Open()
	}
	return nil
}

func (c *Connection) handleClose(closeFrame *frames.Close) error {
	if err := c.hs.remoteClose(); err != nil {
		return c.fail(frames.NewError(frames.ErrorIllegalState, "%v", err))
	}

	if closeFrame.Error != nil {
		c.err = closeFrame.Error
		c.log().WithError(closeFrame.Error).Warn("Peer closed connection with an error")
	} else {
		c.log().Debug("Peer closed connection")
	}

	if c.hs.localClosed {
		c.release()
		return nil
	}

	// A Close must always be preceded by an Open.
	if !c.hs.localOpened {
		if err := c.Open(); err != nil {
			c.hs.terminate()
			c.release()
			return err
		}
	}
	return c.Close(nil)
}

func (c *Connection) handleBegin(channel uint16, begin *frames.Begin) error {
	if begin.RemoteChannel == nil {
		return c.fail(frames.NewError(frames.ErrorNotImplemented, "sessions initiated by the peer are not supported"))
	}

	s, exists := c.sessions[*begin.RemoteChannel]
	if !exists || s.State() != SessionBeginSent {
		return c.fail(frames.NewError(frames.ErrorIllegalState, "begin answers unknown channel %d", *begin.RemoteChannel))
	}
	if _, inUse := c.remoteChannels[channel]; inUse {
		return c.fail(frames.NewError(frames.ErrorIllegalState, "peer's channel %d is already in use", channel))
	}

	c.remoteChannels[channel] = s
	return s.handleBegin(channel, begin)
}

// fail this Connection because of a protocol violation; it is closed immediately.
func (c *Connection) fail(e *frames.Error) error {
	c.log().WithError(e).Warn("Protocol violation, closing connection")

	c.err = e
	if !c.hs.localClosed {
		c.enqueue(0, &frames.Close{Error: e})
	}
	c.hs.terminate()
	c.release()
	return e
}

// release all Sessions after this Connection was closed.
func (c *Connection) release() {
	for _, s := range c.sessions {
		s.release()
	}
	c.remoteChannels = make(map[uint16]*Session)
}

// forgetRemoteChannel after a Session has ended on both sides.
func (c *Connection) forgetRemoteChannel(channel uint16) {
	delete(c.remoteChannels, channel)
}

// Dispatch all readable deliveries of all Sessions, settle them and grant new credit if necessary.
func (c *Connection) Dispatch() {
	defer c.cascade()

	if c.State() != ConnectionOpened {
		return
	}
	for _, s := range c.Sessions() {
		s.dispatch()
	}
}

// cascade ends Sessions whose Links are all detached and closes this Connection after all Sessions ended.
func (c *Connection) cascade() {
	if c.hs.localClosed || len(c.sessions) == 0 {
		return
	}

	sessions := c.Sessions()
	for _, s := range sessions {
		if !s.hs.localClosed && s.linksDetached() {
			if err := s.End(nil); err != nil {
				c.log().WithError(err).Debug("Cascading end failed")
			}
		}
	}

	for _, s := range sessions {
		if !s.hs.localClosed {
			return
		}
	}

	if err := c.Close(nil); err != nil {
		c.log().WithError(err).Debug("Cascading close failed")
	}
}

// send a Performative on a channel, unless this Connection is already closing.
func (c *Connection) send(channel uint16, body frames.Performative) {
	if c.hs.localClosed {
		c.log().WithField("frame", body).Debug("Dropping outgoing frame for closing connection")
		return
	}
	c.enqueue(channel, body)
}

func (c *Connection) enqueue(channel uint16, body frames.Performative) {
	c.outgoing = append(c.outgoing, frames.Frame{Channel: channel, Body: body})
}

// PopOutgoing returns all frames enqueued for sending since the last call, in order.
func (c *Connection) PopOutgoing() []frames.Frame {
	out := c.outgoing
	c.outgoing = nil
	return out
}
