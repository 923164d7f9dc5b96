// Package devicefactory builds the radio adapter and session from configuration.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	goble "github.com/srg/mioband/internal/device/go-ble"
	"github.com/srg/mioband/internal/session"
	"github.com/srg/mioband/pkg/config"
)

// NewAdapter creates the go-ble adapter for the platform radio.
func NewAdapter(cfg *config.Config, logger *logrus.Logger) *goble.Adapter {
	return goble.NewAdapter(AdapterOptions(cfg), logger)
}

// AdapterOptions maps configuration onto adapter options.
func AdapterOptions(cfg *config.Config) goble.Options {
	return goble.Options{
		EventBuffer:       cfg.EventBuffer,
		PowerPollInterval: cfg.PowerPollInterval,
	}
}

// SessionOptions maps configuration onto session options.
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		TargetName: cfg.TargetName,
		MotorDelay: cfg.MotorDelay,
	}
}

// NewSession creates a session driving adapter and reporting to sink.
func NewSession(cfg *config.Config, adapter session.Adapter, sink session.Sink, logger *logrus.Logger) *session.Session {
	return session.New(adapter, sink, SessionOptions(cfg), logger)
}
