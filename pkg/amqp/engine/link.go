// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// LinkConfig configures a receiving Link.
type LinkConfig struct {
	// Name of this link, unique for this container and the peer's.
	Name string

	// Source is the address of the node messages are received from.
	Source string

	// Credit is the initial credit granted to the sender, and the credit it is topped up to.
	Credit uint32

	// RefillThreshold triggers granting new credit as soon as the remaining credit falls below. It defaults to
	// half of the Credit, but at least one.
	RefillThreshold uint32

	// Limit of deliveries to be accepted before detaching. Zero means no limit.
	Limit uint64

	// MaxMessageSize is announced in the Attach. A longer delivery detaches the Link, zero means no limit.
	MaxMessageSize uint64

	// Handler is called for each received message.
	Handler Handler
}

var linkStates = map[phase]LinkState{
	phaseUninit:    LinkUnattached,
	phaseOpenSent:  LinkAttachSent,
	phaseOpenRcvd:  LinkAttachRcvd,
	phaseOpened:    LinkActive,
	phaseCloseSent: LinkDetachSent,
	phaseClosed:    LinkDetached,
}

// Link is a receiving link endpoint, managing the credit granted to its sender.
//
// The remaining credit is the granted credit minus the deliveries completed since this grant. A sender
// starting a new delivery without remaining credit violates the protocol and the Link is detached.
type Link struct {
	session    *Session
	config     LinkConfig
	hs         handshake
	dispatcher *Dispatcher

	handle       uint32
	remoteHandle uint32

	// credit is the top-up target, pendingCredit a grant waiting for the link to become active.
	credit        uint32
	pendingCredit bool

	// linkCredit was granted in the last Flow, sinceGrant deliveries have completed since then.
	linkCredit    uint32
	sinceGrant    uint32
	deliveryCount uint32
	available     uint32

	partial  *Delivery
	readable []*Delivery

	accepted uint64
	err      error
}

func newLink(session *Session, handle uint32, config LinkConfig) *Link {
	return &Link{
		session:    session,
		config:     config,
		dispatcher: NewDispatcher(config.Handler),
		handle:     handle,
		credit:     config.Credit,
	}
}

func (l *Link) String() string {
	return fmt.Sprintf("LINK(%s, handle=%d, %v)", l.config.Name, l.handle, l.State())
}

func (l *Link) log() *log.Entry {
	return l.session.log().WithField("link", l.config.Name)
}

// State of this Link.
func (l *Link) State() LinkState {
	return linkStates[l.hs.phase()]
}

// Handle is this Link's local handle.
func (l *Link) Handle() uint32 {
	return l.handle
}

// Error is the condition this Link was detached with, either locally or by the peer.
func (l *Link) Error() error {
	return l.err
}

// DeliveryCount is the number of deliveries the sender has completed, including its initial delivery count.
func (l *Link) DeliveryCount() uint32 {
	return l.deliveryCount
}

// Credit is the remaining credit of the sender.
func (l *Link) Credit() uint32 {
	if l.sinceGrant >= l.linkCredit {
		return 0
	}
	return l.linkCredit - l.sinceGrant
}

// Available is the number of messages the sender has reported to be available.
func (l *Link) Available() uint32 {
	return l.available
}

// Accepted is the number of deliveries this Link has dispatched.
func (l *Link) Accepted() uint64 {
	return l.accepted
}

// Attach this Link as a receiver for the configured source, UNATTACHED to ATTACH_SENT.
func (l *Link) Attach() error {
	if l.session.hs.localClosed {
		return fmt.Errorf("%v is ending", l.session)
	}
	if err := l.hs.open(); err != nil {
		return fmt.Errorf("attaching %v failed: %w", l, err)
	}

	l.session.conn.send(l.session.channel, &frames.Attach{
		Name:           l.config.Name,
		Handle:         l.handle,
		Role:           frames.RoleReceiver,
		SndSettleMode:  frames.SenderSettleMixed,
		RcvSettleMode:  frames.ReceiverSettleFirst,
		Source:         &frames.Terminus{Address: l.config.Source},
		Target:         &frames.Terminus{},
		MaxMessageSize: l.config.MaxMessageSize,
	})
	l.log().WithField("source", l.config.Source).Debug("Attaching link")
	return nil
}

// Flow grants credit to the sender. If this Link is not yet active, the grant is sent after the peer's Attach.
func (l *Link) Flow(credit uint32) error {
	if credit == 0 {
		return fmt.Errorf("credit must be positive")
	}
	if l.hs.localClosed || l.hs.remoteClosed {
		return fmt.Errorf("%v is detaching", l)
	}

	l.credit = credit
	if !l.hs.active() {
		l.pendingCredit = true
		return nil
	}

	l.grant(credit)
	return nil
}

// Detach this Link by sending a closing Detach frame, optionally carrying an error condition.
func (l *Link) Detach(e *frames.Error) error {
	if err := l.hs.close(); err != nil {
		return fmt.Errorf("detaching %v failed: %w", l, err)
	}

	if e != nil {
		l.err = e
	}
	l.session.conn.send(l.session.channel, &frames.Detach{Handle: l.handle, Closed: true, Error: e})
	l.log().WithField("error", e).Debug("Detaching link")

	l.drop()
	return nil
}

// refillThreshold of the remaining credit, below which new credit is granted.
func (l *Link) refillThreshold() uint32 {
	threshold := l.config.RefillThreshold
	if threshold == 0 {
		threshold = l.credit / 2
	}
	if threshold == 0 {
		threshold = 1
	}
	return threshold
}

// grant credit by sending a Flow, relative to the current delivery count.
func (l *Link) grant(credit uint32) {
	l.linkCredit = credit
	l.sinceGrant = 0
	l.pendingCredit = false

	l.session.sendFlow(l)
	l.log().WithFields(log.Fields{
		"credit":         credit,
		"delivery-count": l.deliveryCount,
	}).Debug("Granted credit")
}

func (l *Link) handleAttach(attach *frames.Attach) error {
	if err := l.hs.remoteOpen(); err != nil {
		return l.fail(frames.NewError(frames.ErrorIllegalState, "%v", err))
	}
	if attach.Role != frames.RoleSender {
		return l.fail(frames.NewError(frames.ErrorIllegalState, "peer attached as %v", attach.Role))
	}

	l.remoteHandle = attach.Handle
	l.deliveryCount = attach.InitialDeliveryCount

	if attach.Source == nil {
		// The peer refused the source; its Detach follows.
		l.log().Warn("Peer attached without a source")
		return nil
	}

	l.log().WithField("attach", attach).Debug("Peer attached link")

	if l.pendingCredit && !l.hs.localClosed {
		l.grant(l.credit)
	}
	return nil
}

func (l *Link) handleFlow(flow *frames.Flow) error {
	if flow.DeliveryCount != nil {
		// The sender might have advanced its delivery count, e.g., by draining; this consumes credit. Its count
		// already includes an incomplete delivery, which is only counted here on completion.
		local := l.deliveryCount
		if l.partial != nil {
			local++
		}

		advance := *flow.DeliveryCount - local
		if advance > 0 && advance < 1<<31 {
			l.deliveryCount += advance
			if l.sinceGrant += advance; l.sinceGrant > l.linkCredit {
				l.sinceGrant = l.linkCredit
			}
		}
	}

	if flow.Available != nil {
		l.available = *flow.Available
	}

	if flow.Echo && l.hs.active() {
		l.grant(l.Credit())
	}
	return nil
}

func (l *Link) handleTransfer(transfer *frames.Transfer) error {
	if !l.hs.active() {
		l.log().WithField("transfer", transfer).Debug("Discarding transfer for inactive link")
		return nil
	}

	if transfer.DeliveryID != nil {
		if l.partial != nil {
			return l.fail(frames.NewError(frames.ErrorIllegalState,
				"delivery %d started while %v is incomplete", *transfer.DeliveryID, l.partial))
		}
		if transfer.DeliveryTag == nil {
			return l.fail(frames.NewError(frames.ErrorInvalidField,
				"delivery %d has no delivery-tag", *transfer.DeliveryID))
		}
		for _, d := range l.readable {
			if bytes.Equal(d.Tag, transfer.DeliveryTag) {
				return l.fail(frames.NewError(frames.ErrorIllegalState,
					"delivery-tag %x is not unique", transfer.DeliveryTag))
			}
		}
		if l.sinceGrant >= l.linkCredit {
			return l.fail(frames.NewError(frames.ErrorTransferLimitExceeded,
				"delivery %d exceeds credit of %d", *transfer.DeliveryID, l.linkCredit))
		}

		l.partial = newDelivery(*transfer.DeliveryID, transfer.DeliveryTag)
	} else if l.partial == nil || (transfer.DeliveryTag != nil && !bytes.Equal(transfer.DeliveryTag, l.partial.Tag)) {
		return l.fail(frames.NewError(frames.ErrorIllegalState,
			"transfer continues unknown delivery-tag %x", transfer.DeliveryTag))
	}

	delivery := l.partial

	if transfer.Aborted {
		l.log().WithField("delivery", delivery).Debug("Delivery was aborted")
		l.partial = nil
		l.complete()
		return nil
	}

	if limit := l.config.MaxMessageSize; limit > 0 && uint64(delivery.Size())+uint64(len(transfer.Payload)) > limit {
		return l.fail(frames.NewError(frames.ErrorMessageSizeExceeded,
			"delivery %d exceeds %d bytes", delivery.ID, limit))
	}

	if err := delivery.nextTransfer(transfer); err != nil {
		return l.fail(frames.NewError(frames.ErrorInternalError, "%v", err))
	}

	if delivery.State() == DeliveryReadable {
		l.partial = nil
		l.readable = append(l.readable, delivery)
		l.complete()
	}
	return nil
}

// complete a delivery by advancing the delivery count, which consumes one credit.
func (l *Link) complete() {
	l.deliveryCount++
	l.sinceGrant++
}

func (l *Link) handleDetach(detach *frames.Detach) error {
	if err := l.hs.remoteClose(); err != nil {
		return l.fail(frames.NewError(frames.ErrorIllegalState, "%v", err))
	}

	if detach.Error != nil {
		l.err = detach.Error
		l.log().WithError(detach.Error).Warn("Peer detached link with an error")
	} else {
		l.log().Debug("Peer detached link")
	}

	if l.hs.localClosed {
		return nil
	}
	return l.Detach(nil)
}

// dispatch all readable deliveries in their order of arrival, settle them and evaluate the refill policy once
// after all settlements.
func (l *Link) dispatch() {
	var settled int

	for len(l.readable) > 0 && l.hs.active() {
		delivery := l.readable[0]
		l.readable = l.readable[1:]

		l.dispatcher.Dispatch(delivery)

		if !delivery.RemoteSettled {
			l.session.conn.send(l.session.channel, &frames.Disposition{
				Role:    frames.RoleReceiver,
				First:   delivery.ID,
				Settled: true,
				State:   &frames.Accepted{},
			})
		}
		delivery.settle()
		settled++

		l.accepted++
		if l.config.Limit > 0 && l.accepted >= l.config.Limit {
			l.log().WithField("limit", l.config.Limit).Info("Received all messages, detaching link")
			if err := l.Detach(nil); err != nil {
				l.log().WithError(err).Warn("Detaching link failed")
			}
		}
	}

	if settled > 0 && l.hs.active() && l.Credit() < l.refillThreshold() {
		l.grant(l.credit)
	}
}

// fail this Link because of a protocol violation by detaching it with an error condition.
func (l *Link) fail(e *frames.Error) error {
	l.log().WithError(e).Warn("Protocol violation, detaching link")

	if err := l.Detach(e); err != nil {
		l.log().WithError(err).Debug("Detaching failed link failed")
		l.err = e
		l.drop()
	}
	return e
}

// drop all deliveries which were not yet dispatched.
func (l *Link) drop() {
	l.partial = nil
	l.readable = nil
}

// release this Link after its Session has ended.
func (l *Link) release() {
	l.hs.terminate()
	l.drop()
}
