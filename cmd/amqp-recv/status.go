// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/amqprecv/pkg/receiver"
)

// statusAgent serves the Receiver's statistics over HTTP.
type statusAgent struct {
	router *mux.Router
	stats  func() receiver.Stats
}

func newStatusAgent(stats func() receiver.Stats) (sa *statusAgent) {
	sa = &statusAgent{
		router: mux.NewRouter(),
		stats:  stats,
	}

	sa.router.HandleFunc("/stats", sa.handleStats).Methods(http.MethodGet)

	return sa
}

func (sa *statusAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sa.router.ServeHTTP(w, r)
}

// handleStats processes /stats GET requests.
func (sa *statusAgent) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sa.stats()); err != nil {
		log.WithError(err).Warn("Failed to write stats response")
	}
}
