// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists received AMQP messages together with some meta data.
package storage

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/dtn7/amqprecv/pkg/amqp/message"
)

const (
	dirBadger  string = "db"
	dirMessage string = "msg"
)

// Store implements a storage for Messages together with meta data.
type Store struct {
	bh *badgerhold.Store

	badgerDir  string
	messageDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)
	messageDir := path.Join(dir, dirMessage)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}
	if dirErr := os.MkdirAll(messageDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh: bh,

			badgerDir:  badgerDir,
			messageDir: messageDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Push a received Message, described by its MessageItem, to the Store. Messages with a known identifier are
// ignored.
func (s *Store) Push(mi MessageItem, msg *message.Message) error {
	if s.Knows(mi.Id) {
		log.WithField("message", mi.Id).Debug("Message ID is known, ignoring push")
		return nil
	}

	mi.Filename = messagePath(mi.Id, s.messageDir)
	if err := mi.storeMessage(msg); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"message": mi.Id,
		"size":    mi.Size,
	}).Debug("Inserting MessageItem")

	return s.bh.Insert(mi.Id, mi)
}

// Record a Message received just now.
func (s *Store) Record(msg *message.Message) error {
	mi, err := NewItem(msg, time.Now())
	if err != nil {
		return err
	}
	return s.Push(mi, msg)
}

// Delete a MessageItem together with its stored Message.
func (s *Store) Delete(id string) error {
	if mi, err := s.Query(id); err == nil {
		log.WithField("message", id).Info("Store deletes MessageItem")

		if err := mi.deleteMessage(); err != nil {
			log.WithFields(log.Fields{
				"message": id,
				"file":    mi.Filename,
				"error":   err,
			}).Warn("Failed to delete stored Message")
		}

		return s.bh.Delete(mi.Id, MessageItem{})
	}

	return nil
}

// DeleteExpired removes all Messages whose TTL has passed.
func (s *Store) DeleteExpired() {
	var mis []MessageItem
	query := badgerhold.Where("Expiring").Eq(true).And("Expires").Lt(time.Now())
	if err := s.bh.Find(&mis, query); err != nil {
		log.WithError(err).Warn("Failed to get expired Messages")
		return
	}

	for _, mi := range mis {
		logger := log.WithField("message", mi.Id)
		if err := s.Delete(mi.Id); err != nil {
			logger.WithError(err).Warn("Failed to delete expired Message")
		} else {
			logger.Info("Deleted expired Message")
		}
	}
}

// Query fetches the MessageItem for the requested identifier.
func (s *Store) Query(id string) (mi MessageItem, err error) {
	err = s.bh.Get(id, &mi)
	return
}

// QueryAll fetches all MessageItems.
func (s *Store) QueryAll() (mis []MessageItem, err error) {
	err = s.bh.Find(&mis, nil)
	return
}

// Count the stored Messages.
func (s *Store) Count() (int, error) {
	mis, err := s.QueryAll()
	return len(mis), err
}

// Knows checks if a Message of this identifier is stored.
func (s *Store) Knows(id string) bool {
	_, err := s.Query(id)
	return err != badgerhold.ErrNotFound
}
