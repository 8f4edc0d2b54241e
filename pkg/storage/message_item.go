// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/dtn7/amqprecv/pkg/amqp/message"
)

// MessageItem is a wrapper for meta data around a received Message. The Store operates on MessageItems,
// while the encoded Message itself is kept in a file.
type MessageItem struct {
	Id string `badgerhold:"key"`

	Received time.Time `badgerholdIndex:"Received"`

	// Expires is only valid for Expiring items, i.e., Messages carrying a TTL.
	Expiring bool      `badgerholdIndex:"Expiring"`
	Expires  time.Time `badgerholdIndex:"Expires"`

	Subject     string
	ContentType string
	Size        int

	Filename string
}

// NewItem creates a MessageItem for a Message received at the given time.
//
// Messages with a message-id are identified by it. Otherwise, the identifier is derived from the Message's
// encoding and its reception time.
func NewItem(msg *message.Message, received time.Time) (mi MessageItem, err error) {
	data, err := msg.Encode()
	if err != nil {
		return
	}

	mi = MessageItem{
		Received: received,
		Size:     len(data),
	}

	if msg.Properties != nil {
		mi.Id = msg.Properties.MessageID
		mi.Subject = msg.Properties.Subject
		mi.ContentType = msg.Properties.ContentType
	}
	if mi.Id == "" {
		mi.Id = fmt.Sprintf("%x-%d", sha256.Sum256(data), received.UnixNano())
	}

	mi.Expires, mi.Expiring = msg.Expires(received)
	return
}

// storeMessage serializes the Message of a MessageItem to the disk.
func (mi MessageItem) storeMessage(msg *message.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(mi.Filename, data, 0600)
}

// deleteMessage removes the serialized Message from the disk.
func (mi MessageItem) deleteMessage() error {
	return os.Remove(mi.Filename)
}

// Load the Message from the disk.
func (mi MessageItem) Load() (*message.Message, error) {
	data, err := os.ReadFile(mi.Filename)
	if err != nil {
		return nil, err
	}
	return message.Decode(data)
}

// messagePath returns a path for a MessageItem's identifier.
func messagePath(id string, storagePath string) string {
	f := fmt.Sprintf("%x", sha256.Sum256([]byte(id)))
	return path.Join(storagePath, f)
}
