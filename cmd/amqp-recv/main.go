// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// amqp-recv receives messages from an AMQP 1.0 peer and prints them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/amqprecv/pkg/receiver"
	"github.com/dtn7/amqprecv/pkg/storage"
)

// options besides the receiver.Config, only available as flags or in the configuration file.
type options struct {
	configFile   string
	storeDir     string
	statusListen string
}

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func newRootCommand() *cobra.Command {
	var opts options
	config := receiver.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "amqp-recv [OPTIONS]",
		Short: "Receive messages from an AMQP 1.0 source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configFile != "" {
				conf, err := parseConfig(opts.configFile)
				if err != nil {
					return err
				}

				applyLogging(conf.Logging)
				if err := mergeReceiverConf(&config, conf.Receiver, cmd.Flags()); err != nil {
					return err
				}
				if opts.storeDir == "" {
					opts.storeDir = conf.Store.Dir
				}
				if opts.statusListen == "" {
					opts.statusListen = conf.Status.Listen
				}
			}

			if err := config.CheckValid(); err != nil {
				return err
			}

			// From here on, errors are no usage errors.
			cmd.SilenceUsage = true
			return run(config, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&config.Address, "address", "a", config.Address, "Address of the peer, host:port or a WebSocket URL")
	flags.IntVarP(&config.Count, "count", "c", config.Count, "Number of messages to receive, 0 for no limit")
	flags.StringVarP(&config.Source, "source", "s", config.Source, "Source address to receive from")
	flags.StringVarP(&config.Container, "container", "i", config.Container, "Container name")
	flags.BoolVarP(&config.Quiet, "quiet", "q", config.Quiet, "Do not print received messages")
	flags.IntVarP(&config.Credit, "credit", "f", config.Credit, "Credit window granted to the sender")
	flags.DurationVar(&config.Timeout, "timeout", config.Timeout, "Timeout for dialing and idle iterations")
	flags.StringVar(&config.Transport, "transport", config.Transport, "Transport to be used (tcp|ws)")
	flags.Uint64Var(&config.MaxMessageSize, "max-message-size", config.MaxMessageSize, "Largest accepted message in bytes, 0 for no limit")
	flags.StringVar(&opts.configFile, "config", "", "TOML configuration file")
	flags.StringVar(&opts.storeDir, "store", "", "Directory to store received messages in")
	flags.StringVar(&opts.statusListen, "status-listen", "", "Address to serve statistics on, e.g., localhost:8080")

	return cmd
}

func run(config receiver.Config, opts options) error {
	var sink receiver.Sink
	if opts.storeDir != "" {
		store, err := storage.NewStore(opts.storeDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("Closing store errored")
			}
		}()

		store.DeleteExpired()
		sink = store
	}

	r, err := receiver.NewReceiver(config, sink, os.Stdout)
	if err != nil {
		return err
	}

	if opts.statusListen != "" {
		server := &http.Server{
			Addr:    opts.statusListen,
			Handler: newStatusAgent(r.Stats),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Warn("Status endpoint failed")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		waitSigint()
		log.Info("Shutting down..")
		cancel()
	}()

	return r.Run(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
