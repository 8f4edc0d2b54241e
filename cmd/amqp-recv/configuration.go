// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/dtn7/amqprecv/pkg/receiver"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging  logConf
	Receiver receiverConf
	Store    storeConf
	Status   statusConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// receiverConf describes the Receiver-configuration block. Unset values keep their defaults.
type receiverConf struct {
	Address        string
	Count          *int
	Source         string
	Container      string
	Quiet          *bool
	Credit         *int
	Timeout        string
	Transport      string
	MaxPrintSize   *int    `toml:"max-print-size"`
	MaxMessageSize *uint64 `toml:"max-message-size"`
}

// storeConf describes the Store-configuration block.
type storeConf struct {
	Dir string
}

// statusConf describes the status HTTP endpoint.
type statusConf struct {
	Listen string
}

// parseConfig reads a TOML configuration file.
func parseConfig(filename string) (conf tomlConfig, err error) {
	_, err = toml.DecodeFile(filename, &conf)
	return
}

// applyLogging configures logrus.
func applyLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// mergeReceiverConf sets all values of the configuration file, unless a flag was set explicitly.
func mergeReceiverConf(config *receiver.Config, conf receiverConf, flags *pflag.FlagSet) error {
	mergeString := func(flag, value string, field *string) {
		if value != "" && !flags.Changed(flag) {
			*field = value
		}
	}
	mergeInt := func(flag string, value *int, field *int) {
		if value != nil && !flags.Changed(flag) {
			*field = *value
		}
	}

	mergeString("address", conf.Address, &config.Address)
	mergeString("source", conf.Source, &config.Source)
	mergeString("container", conf.Container, &config.Container)
	mergeString("transport", conf.Transport, &config.Transport)

	mergeInt("count", conf.Count, &config.Count)
	mergeInt("credit", conf.Credit, &config.Credit)
	if conf.MaxPrintSize != nil {
		config.MaxPrintSize = *conf.MaxPrintSize
	}
	if conf.MaxMessageSize != nil && !flags.Changed("max-message-size") {
		config.MaxMessageSize = *conf.MaxMessageSize
	}

	if conf.Quiet != nil && !flags.Changed("quiet") {
		config.Quiet = *conf.Quiet
	}

	if conf.Timeout != "" && !flags.Changed("timeout") {
		timeout, err := time.ParseDuration(conf.Timeout)
		if err != nil {
			return fmt.Errorf("receiver.timeout: %w", err)
		}
		config.Timeout = timeout
	}

	return nil
}
