// Package dispatch fans a TRIGGER message out to every eligible responder endpoint.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
)

// ErrNoSender is reported for an endpoint whose kind has no configured Sender.
var ErrNoSender = errors.New("no sender configured for endpoint kind")

// Sender delivers a message to one endpoint using one delivery primitive.
type Sender interface {
	Send(ctx context.Context, endpoint protocol.Endpoint, msg *protocol.Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, endpoint protocol.Endpoint, msg *protocol.Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, endpoint protocol.Endpoint, msg *protocol.Message) error {
	return f(ctx, endpoint, msg)
}

// EndpointSource computes the current fan-out set.
type EndpointSource interface {
	EligibleEndpoints(ctx context.Context) ([]protocol.Endpoint, error)
}

// Dispatcher sends TRIGGER messages to every eligible endpoint, one Sender per
// endpoint kind.
type Dispatcher struct {
	source  EndpointSource
	senders map[protocol.EndpointKind]Sender
	logger  zerolog.Logger
}

// NewDispatcher creates a Dispatcher. senders maps each endpoint kind to the
// primitive that reaches it; endpoints of a missing kind are logged and skipped.
func NewDispatcher(source EndpointSource, senders map[protocol.EndpointKind]Sender, logger zerolog.Logger) *Dispatcher {
	table := make(map[protocol.EndpointKind]Sender, len(senders))
	for k, s := range senders {
		table[k] = s
	}
	return &Dispatcher{
		source:  source,
		senders: table,
		logger:  logger.With().Str("component", "dispatch").Logger(),
	}
}

// SendTrigger delivers msg to every eligible endpoint: interactive first, then
// broadcast, then service. A message not tagged TRIGGER is rejected with
// protocol.ErrInvalidAction. When msg.TargetPackage is set only that responder
// is considered. Per-endpoint failures are logged and never stop the loop, so
// the only other errors are those that prevent computing the fan-out set. The
// call runs to completion once started.
func (d *Dispatcher) SendTrigger(ctx context.Context, msg *protocol.Message) error {
	if !protocol.IsTriggerMessage(msg) {
		action := protocol.Action("")
		if msg != nil {
			action = msg.Action
		}
		return fmt.Errorf("%w: cannot send %q as a trigger", protocol.ErrInvalidAction, action)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	endpoints, err := d.source.EligibleEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute trigger fan-out: %w", err)
	}

	var delivered, failed int
	for _, kind := range protocol.Kinds {
		for _, ep := range endpoints {
			if ep.Kind != kind {
				continue
			}
			if msg.TargetPackage != "" && ep.ID != msg.TargetPackage {
				continue
			}
			if err := d.deliver(ctx, ep, msg.ForTarget(ep.ID)); err != nil {
				failed++
				d.logger.Warn().
					Str("responder_id", ep.ID).
					Str("kind", ep.Kind.String()).
					Err(err).
					Msg("Trigger delivery failed")
				continue
			}
			delivered++
		}
	}

	d.logger.Info().
		Str("message_id", msg.ID.String()).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("Trigger fan-out complete")
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
	sender, ok := d.senders[ep.Kind]
	if !ok || sender == nil {
		return fmt.Errorf("%w: %s", ErrNoSender, ep.Kind)
	}
	return sender.Send(ctx, ep, msg)
}
