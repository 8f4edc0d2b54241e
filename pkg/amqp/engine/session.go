// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"fmt"
	"sort"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// SessionConfig configures a Session's windows.
type SessionConfig struct {
	// IncomingWindow is the capacity of incoming Transfer frames. The window is replenished to this capacity
	// as soon as it falls below the RefillThreshold.
	IncomingWindow uint32

	// RefillThreshold defaults to half of the IncomingWindow.
	RefillThreshold uint32

	// OutgoingWindow is advertised to the peer. A receiver does not send any Transfers.
	OutgoingWindow uint32

	// HandleMax is the highest link handle usable within this Session.
	HandleMax uint32
}

// DefaultSessionConfig with an incoming window of 2048 Transfer frames.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IncomingWindow: 2048,
		OutgoingWindow: 2048,
		HandleMax:      255,
	}
}

var sessionStates = map[phase]SessionState{
	phaseUninit:    SessionUnattached,
	phaseOpenSent:  SessionBeginSent,
	phaseOpenRcvd:  SessionBeginRcvd,
	phaseOpened:    SessionActive,
	phaseCloseSent: SessionEndSent,
	phaseClosed:    SessionEnded,
}

// Session is a bidirectional sequential conversation within a Connection, hosting Links.
type Session struct {
	conn   *Connection
	config SessionConfig
	hs     handshake

	channel       uint16
	remoteChannel uint16

	links         map[uint32]*Link
	remoteHandles map[uint32]*Link

	nextIncomingID uint32
	incomingWindow uint32
	nextOutgoingID uint32

	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32

	// flows counts sent Flow frames, to detect if a window update was already carried by a link's Flow.
	// It is accessed by sync.atomic functions.
	flows uint64

	err error
}

func newSession(conn *Connection, channel uint16, config SessionConfig) *Session {
	if config.IncomingWindow == 0 {
		config.IncomingWindow = DefaultSessionConfig().IncomingWindow
	}
	if config.RefillThreshold == 0 || config.RefillThreshold > config.IncomingWindow {
		config.RefillThreshold = config.IncomingWindow / 2
	}

	return &Session{
		conn:           conn,
		config:         config,
		channel:        channel,
		links:          make(map[uint32]*Link),
		remoteHandles:  make(map[uint32]*Link),
		incomingWindow: config.IncomingWindow,
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("SESSION(channel=%d, %v)", s.channel, s.State())
}

func (s *Session) log() *log.Entry {
	return s.conn.log().WithField("session", s.channel)
}

// State of this Session.
func (s *Session) State() SessionState {
	return sessionStates[s.hs.phase()]
}

// Channel is this Session's local channel number.
func (s *Session) Channel() uint16 {
	return s.channel
}

// IncomingWindow is the number of Transfer frames this Session is currently willing to receive.
func (s *Session) IncomingWindow() uint32 {
	return s.incomingWindow
}

// Flows is the number of Flow frames this Session has sent. This method might be called from another goroutine.
func (s *Session) Flows() uint64 {
	return atomic.LoadUint64(&s.flows)
}

// Error is the condition this Session was ended with, either locally or by the peer.
func (s *Session) Error() error {
	return s.err
}

// Begin this Session by sending a Begin frame, UNATTACHED to BEGIN_SENT.
func (s *Session) Begin() error {
	if s.conn.hs.localClosed {
		return fmt.Errorf("%v is closing", s.conn)
	}
	if err := s.hs.open(); err != nil {
		return fmt.Errorf("beginning %v failed: %w", s, err)
	}

	s.conn.send(s.channel, &frames.Begin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.config.OutgoingWindow,
		HandleMax:      s.config.HandleMax,
	})
	s.log().Debug("Beginning session")
	return nil
}

// End this Session by sending an End frame, optionally carrying an error condition.
func (s *Session) End(e *frames.Error) error {
	if err := s.hs.close(); err != nil {
		return fmt.Errorf("ending %v failed: %w", s, err)
	}

	if e != nil {
		s.err = e
	}
	s.conn.send(s.channel, &frames.End{Error: e})
	s.log().WithField("error", e).Debug("Ending session")

	if s.hs.remoteClosed {
		s.release()
		s.conn.forgetRemoteChannel(s.remoteChannel)
	}
	return nil
}

// NewReceiver creates a new receiving Link on the lowest free handle. It must be started by its Attach method.
func (s *Session) NewReceiver(config LinkConfig) (*Link, error) {
	if s.hs.localClosed {
		return nil, fmt.Errorf("%v is ending", s)
	}

	for h := uint64(0); h <= uint64(s.config.HandleMax); h++ {
		if l, exists := s.links[uint32(h)]; exists && !l.hs.localClosed {
			continue
		}

		l := newLink(s, uint32(h), config)
		s.links[uint32(h)] = l
		return l, nil
	}
	return nil, fmt.Errorf("%v has no free handle up to %d", s, s.config.HandleMax)
}

// Links of this Session, ordered by their handle.
func (s *Session) Links() []*Link {
	links := make([]*Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].handle < links[j].handle })
	return links
}

// linksDetached is true if this Session had Links and all of them are detached, at least locally.
func (s *Session) linksDetached() bool {
	if len(s.links) == 0 {
		return false
	}
	for _, l := range s.links {
		if !l.hs.localClosed {
			return false
		}
	}
	return true
}

func (s *Session) handleBegin(remoteChannel uint16, begin *frames.Begin) error {
	if err := s.hs.remoteOpen(); err != nil {
		return s.fail(frames.NewError(frames.ErrorIllegalState, "%v", err))
	}

	s.remoteChannel = remoteChannel
	s.nextIncomingID = begin.NextOutgoingID
	s.remoteIncomingWindow = begin.IncomingWindow
	s.remoteOutgoingWindow = begin.OutgoingWindow

	s.log().WithField("begin", begin).Debug("Peer began session")
	return nil
}

// handle a Performative received on this Session's remote channel.
func (s *Session) handle(body frames.Performative) error {
	if end, ok := body.(*frames.End); ok {
		return s.handleEnd(end)
	}

	if s.hs.localClosed {
		// Transfers still consume the window, even if they are discarded.
		if _, ok := body.(*frames.Transfer); ok {
			s.consumeTransfer()
		}
		s.log().WithField("frame", body).Debug("Discarding frame while ending")
		return nil
	}

	switch body := body.(type) {
	case *frames.Attach:
		return s.handleAttach(body)

	case *frames.Flow:
		return s.handleFlow(body)

	case *frames.Transfer:
		return s.handleTransfer(body)

	case *frames.Disposition:
		s.log().WithField("disposition", body).Debug("Received disposition")
		return nil

	case *frames.Detach:
		return s.handleDetach(body)

	default:
		return s.fail(frames.NewError(frames.ErrorIllegalState, "unexpected %v on a session", body))
	}
}

func (s *Session) handleEnd(end *frames.End) error {
	if err := s.hs.remoteClose(); err != nil {
		return s.conn.fail(frames.NewError(frames.ErrorIllegalState, "%v", err))
	}

	if end.Error != nil {
		s.err = end.Error
		s.log().WithError(end.Error).Warn("Peer ended session with an error")
	} else {
		s.log().Debug("Peer ended session")
	}

	if s.hs.localClosed {
		s.release()
		s.conn.forgetRemoteChannel(s.remoteChannel)
		return nil
	}
	return s.End(nil)
}

func (s *Session) handleAttach(attach *frames.Attach) error {
	if _, inUse := s.remoteHandles[attach.Handle]; inUse {
		return s.fail(frames.NewError(frames.ErrorHandleInUse, "handle %d is already attached", attach.Handle))
	}

	var link *Link
	for _, l := range s.links {
		if l.config.Name == attach.Name && l.State() == LinkAttachSent {
			link = l
			break
		}
	}
	if link == nil {
		return s.fail(frames.NewError(frames.ErrorNotAllowed, "links initiated by the peer are not supported: %s", attach.Name))
	}

	s.remoteHandles[attach.Handle] = link
	return link.handleAttach(attach)
}

func (s *Session) handleFlow(flow *frames.Flow) error {
	if flow.NextIncomingID != nil {
		s.remoteIncomingWindow = *flow.NextIncomingID + flow.IncomingWindow - s.nextOutgoingID
	} else {
		s.remoteIncomingWindow = flow.IncomingWindow - s.nextOutgoingID
	}
	s.remoteOutgoingWindow = flow.OutgoingWindow

	if flow.Handle == nil {
		if flow.Echo {
			s.sendFlow(nil)
		}
		return nil
	}

	link, exists := s.remoteHandles[*flow.Handle]
	if !exists {
		return s.fail(frames.NewError(frames.ErrorUnattachedHandle, "flow for handle %d", *flow.Handle))
	}
	return link.handleFlow(flow)
}

func (s *Session) handleTransfer(transfer *frames.Transfer) error {
	link, exists := s.remoteHandles[transfer.Handle]
	if !exists {
		return s.fail(frames.NewError(frames.ErrorUnattachedHandle, "transfer for handle %d", transfer.Handle))
	}

	if s.incomingWindow == 0 {
		return s.fail(frames.NewError(frames.ErrorWindowViolation, "transfer exceeds incoming window"))
	}
	s.consumeTransfer()

	return link.handleTransfer(transfer)
}

// consumeTransfer advances the session's windows for one incoming Transfer frame.
func (s *Session) consumeTransfer() {
	s.nextIncomingID++
	if s.incomingWindow > 0 {
		s.incomingWindow--
	}
	if s.remoteOutgoingWindow > 0 {
		s.remoteOutgoingWindow--
	}
}

func (s *Session) handleDetach(detach *frames.Detach) error {
	link, exists := s.remoteHandles[detach.Handle]
	if !exists {
		return s.fail(frames.NewError(frames.ErrorUnattachedHandle, "detach for handle %d", detach.Handle))
	}

	delete(s.remoteHandles, detach.Handle)
	return link.handleDetach(detach)
}

// dispatch all Links' readable deliveries and replenish the incoming window if necessary.
func (s *Session) dispatch() {
	if s.State() != SessionActive {
		return
	}

	replenish := s.incomingWindow < s.config.RefillThreshold
	if replenish {
		s.incomingWindow = s.config.IncomingWindow
	}

	flows := s.Flows()
	for _, l := range s.Links() {
		l.dispatch()
	}

	// Each link's Flow carries the session's window as well.
	if replenish && flows == s.Flows() && !s.hs.localClosed {
		s.sendFlow(nil)
	}
}

// sendFlow sends a Flow frame with this Session's window state and, if given, a Link's flow state.
func (s *Session) sendFlow(link *Link) {
	flow := &frames.Flow{
		IncomingWindow: s.incomingWindow,
		NextOutgoingID: s.nextOutgoingID,
		OutgoingWindow: s.config.OutgoingWindow,
	}
	if s.hs.remoteOpened {
		flow.NextIncomingID = frames.Uint32(s.nextIncomingID)
	}

	if link != nil {
		flow.Handle = frames.Uint32(link.handle)
		flow.DeliveryCount = frames.Uint32(link.deliveryCount)
		flow.LinkCredit = frames.Uint32(link.linkCredit)
	}

	atomic.AddUint64(&s.flows, 1)
	s.conn.send(s.channel, flow)
}

// fail this Session because of a protocol violation by ending it with an error condition.
func (s *Session) fail(e *frames.Error) error {
	s.log().WithError(e).Warn("Protocol violation, ending session")

	if err := s.End(e); err != nil {
		s.log().WithError(err).Debug("Ending failed session failed")
	}
	for _, l := range s.links {
		l.drop()
	}
	return e
}

// release all Links after this Session has ended.
func (s *Session) release() {
	s.hs.terminate()
	for _, l := range s.links {
		l.release()
	}
	s.remoteHandles = make(map[uint32]*Link)
}
