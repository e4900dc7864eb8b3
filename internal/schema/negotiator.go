// Package schema guards compatibility between client and server event
// schemas. On session start the client compares its supported range against
// the server's advertised versions; writes from too-old clients fail with
// an actionable upgrade error while reads of already-known versions keep
// working.
package schema

import (
	"fmt"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
)

// ServerInfo is what the server advertises on the negotiation endpoint.
type ServerInfo struct {
	CurrentVersion int `json:"current_version"`
	MinAccepted    int `json:"min_accepted"`
}

// Negotiator holds one side's supported schema version range.
type Negotiator struct {
	minSupported int
	maxSupported int
}

// NewNegotiator derives the supported range from the payload registry: the
// client can read from version 1 (via upcasts) up to the highest version it
// has payload types for.
func NewNegotiator(registry *event.Registry) *Negotiator {
	return &Negotiator{minSupported: 1, maxSupported: registry.MaxVersion()}
}

// Info describes this side's range, for the server's negotiation endpoint.
func (n *Negotiator) Info() ServerInfo {
	return ServerInfo{CurrentVersion: n.maxSupported, MinAccepted: n.minSupported}
}

// CheckWrite decides whether this client may push events to a server
// advertising the given versions.
func (n *Negotiator) CheckWrite(server ServerInfo) error {
	if n.maxSupported < server.MinAccepted {
		return fmt.Errorf("%w: client supports schema v%d but server requires at least v%d",
			common.ErrUpgradeRequired, n.maxSupported, server.MinAccepted)
	}
	return nil
}

// Accepts reports whether an incoming write at the given schema version is
// within this side's accepted range. Reads are not gated here: historic
// versions stay readable through the upcast table.
func (n *Negotiator) Accepts(version int) bool {
	return version >= n.minSupported && version <= n.maxSupported
}
