package core

import (
	"context"

	"peerlink/internal/metrics"
	"peerlink/relay"
	"peerlink/util"
)

// RelayMode hosts rooms for other peers until the context ends.
type RelayMode struct {
	Address string
	Options relay.Options
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run serves the relay on Address.
func (m *RelayMode) Run(ctx context.Context) error {
	srv := relay.New(m.Options, m.Logger, m.Metrics)
	m.Logger.Info("relay listening on %s", m.Address)
	err := srv.ListenAndServe(ctx, m.Address)
	m.Logger.Verbose("relay stopped: %s", m.Metrics.JSON())
	return err
}
