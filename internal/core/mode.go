// Package core is the orchestration layer.  It composes the transport,
// the session manager and the relay into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	protocol  →  transport  →  session  →  core  →  cmd (CLI)
//	                  ↘ relay ↗
package core

import "context"

// Mode represents a complete operational mode of peerlink (console
// client or relay server).  Each mode owns its full lifecycle from
// startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
