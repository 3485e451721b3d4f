package feed

import (
	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/params"
)

// Version is the feed protocol version.
const Version = "1"

// SubscribeMsg is the first client message on a connection. It can be sent
// again later to change the settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Events asks for the per tick audit events along with the record.
	Events bool `json:"events,omitempty"`
	// Every thins the stream to one record per Every ticks.
	Every uint64 `json:"every,omitempty"`
}

// BootstrapResponse answers GET /v1/feed/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	RunID           string        `json:"run_id"`
	Tick            uint64        `json:"tick"`
	Params          params.Params `json:"params"`
}

// TickMsg is sent for every streamed tick.
type TickMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Record          engine.TickRecord `json:"record"`
}
