// Package identity determines who sent an inbound message, when that can be known.
package identity

import (
	"strings"

	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
)

// Resolver resolves the verified sender of inbound messages.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger.With().Str("component", "identity").Logger()}
}

// ResolveSender returns the host-attributed caller of ic. The bool is false when
// the delivery path cannot attribute a caller or the attributed caller is blank.
// Message content, including TargetPackage, is never consulted.
func (r *Resolver) ResolveSender(ic *protocol.InboundContext) (string, bool) {
	if ic == nil {
		return "", false
	}
	log := r.logger.With().Str("delivery", ic.Delivery.String()).Logger()
	if ic.Message != nil {
		log = log.With().Str("action", string(ic.Message.Action)).Logger()
	}

	if !ic.Delivery.Verifiable() {
		log.Warn().Msg("Sender cannot be verified on this delivery path")
		return "", false
	}

	caller := strings.TrimSpace(ic.Caller)
	if caller == "" {
		log.Error().Msg("Received message with blank caller, it must be sent over the verified interactive path")
		return "", false
	}
	return caller, true
}
