// Package handshake processes CONNECT and DISCONNECT messages and keeps the
// connected relationship state.
package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/panic-signal/pkg/identity"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/illmade-knight/panic-signal/pkg/registry"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
)

// ErrSelfPartner is returned when an app tries to make itself its own partner.
var ErrSelfPartner = errors.New("an app cannot be its own connection partner")

// Notifier delivers courtesy CONNECT/DISCONNECT messages over the interactive path.
type Notifier interface {
	Send(ctx context.Context, endpoint protocol.Endpoint, msg *protocol.Message) error
}

// Engine is the per-app handshake state machine. Each responder identifier is
// either Unconnected or Connected; the state lives in the Connected category of
// the relationship store.
type Engine struct {
	store    relationships.Store
	registry *registry.Adapter
	resolver *identity.Resolver
	notifier Notifier
	self     string
	logger   zerolog.Logger
}

// NewEngine creates an Engine for the app identified by self. notifier may be nil,
// in which case no courtesy notifications are sent.
func NewEngine(
	store relationships.Store,
	reg *registry.Adapter,
	resolver *identity.Resolver,
	notifier Notifier,
	self string,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		registry: reg,
		resolver: resolver,
		notifier: notifier,
		self:     self,
		logger:   logger.With().Str("component", "handshake").Str("self", self).Logger(),
	}
}

// CheckInboundConnect processes ic if it carries a CONNECT message. A verified
// sender becomes Connected. The result reports whether a CONNECT was received,
// independent of whether state changed; callers use it to skip their normal
// startup behaviour.
func (e *Engine) CheckInboundConnect(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	if !ic.HasAction(protocol.ActionConnect) {
		return false, nil
	}
	sender, ok := e.resolver.ResolveSender(ic)
	if !ok {
		e.logger.Warn().Msg("Declining CONNECT without a verified sender")
		return true, nil
	}
	if sender == e.self {
		e.logger.Debug().Msg("Ignoring CONNECT sent by this app")
		return true, nil
	}

	if err := e.store.SetFlag(ctx, relationships.Connected, sender, true); err != nil {
		return true, fmt.Errorf("failed to record connection with %s: %w", sender, relationships.WriteFailed(err))
	}
	e.logger.Info().Str("responder_id", sender).Msg("Connected")
	return true, nil
}

// CheckInboundDisconnect processes ic if it carries a DISCONNECT message. Only
// the connected party itself can sever its connection; a DISCONNECT from anyone
// else is reported as received but changes nothing.
func (e *Engine) CheckInboundDisconnect(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	if !ic.HasAction(protocol.ActionDisconnect) {
		return false, nil
	}
	sender, ok := e.resolver.ResolveSender(ic)
	if !ok {
		e.logger.Warn().Msg("Declining DISCONNECT without a verified sender")
		return true, nil
	}

	connected, err := e.store.GetFlag(ctx, relationships.Connected, sender)
	if err != nil {
		return true, fmt.Errorf("failed to read connection state for %s: %w", sender, err)
	}
	if !connected {
		e.logger.Info().Str("responder_id", sender).Msg("Ignoring DISCONNECT from a sender that is not connected")
		return true, nil
	}

	if err := e.store.SetFlag(ctx, relationships.Connected, sender, false); err != nil {
		return true, fmt.Errorf("failed to clear connection with %s: %w", sender, relationships.WriteFailed(err))
	}
	e.logger.Info().Str("responder_id", sender).Msg("Disconnected")
	return true, nil
}

// ConnectionPartner returns the partner chosen with SetConnectionPartner, or ""
// when there is none or it is no longer installed. It answers for the responder
// role, which keeps a single partner; a trigger app lists its connected
// responders through the authorization view instead.
func (e *Engine) ConnectionPartner(ctx context.Context) (string, error) {
	ids, err := e.store.ListSet(ctx, relationships.Connected)
	if err != nil {
		return "", fmt.Errorf("failed to read connection partner: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	installed, err := e.registry.ListConnectCapableEndpoints(ctx)
	if err != nil {
		return "", err
	}
	live := make(map[string]struct{}, len(installed))
	for _, id := range installed {
		live[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := live[id]; ok {
			return id, nil
		}
	}
	return "", nil
}

// SetConnectionPartner makes partner the only Connected identifier. Every other
// previously connected party is cleared and then sent a DISCONNECT, then partner
// is recorded and sent a CONNECT. A blank partner, NONE or DEFAULT clears the
// partner. Notifications are best effort and never addressed to this app.
func (e *Engine) SetConnectionPartner(ctx context.Context, partner string) error {
	if protocol.IsNoPartner(partner) {
		partner = ""
	}
	if partner != "" && partner == e.self {
		return ErrSelfPartner
	}

	previous, err := e.store.ListSet(ctx, relationships.Connected)
	if err != nil {
		return fmt.Errorf("failed to read connection partner: %w", err)
	}

	alreadyConnected := false
	for _, p := range previous {
		if p == partner {
			alreadyConnected = true
			continue
		}
		if err := e.store.SetFlag(ctx, relationships.Connected, p, false); err != nil {
			return fmt.Errorf("failed to clear connection with %s: %w", p, relationships.WriteFailed(err))
		}
		e.notify(ctx, protocol.ActionDisconnect, p)
		e.logger.Info().Str("responder_id", p).Msg("Previous partner disconnected")
	}

	if partner == "" {
		return nil
	}
	if err := e.store.SetFlag(ctx, relationships.Connected, partner, true); err != nil {
		return fmt.Errorf("failed to record connection with %s: %w", partner, relationships.WriteFailed(err))
	}
	if !alreadyConnected {
		e.notify(ctx, protocol.ActionConnect, partner)
		e.logger.Info().Str("responder_id", partner).Msg("Partner connected")
	}
	return nil
}

// AdoptInboundPartner makes the verified sender of an inbound CONNECT the
// partner. It does nothing when ic carries no CONNECT, the sender cannot be
// verified, or the sender is this app (e.g. it opened its own settings screen).
// The result reports whether the partner was changed.
func (e *Engine) AdoptInboundPartner(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	if !ic.HasAction(protocol.ActionConnect) {
		return false, nil
	}
	sender, ok := e.resolver.ResolveSender(ic)
	if !ok {
		return false, nil
	}
	if sender == e.self {
		e.logger.Debug().Msg("Launched by this app, keeping the existing partner")
		return false, nil
	}
	if err := e.SetConnectionPartner(ctx, sender); err != nil {
		return false, err
	}
	return true, nil
}

// ReceivedTriggerFromConnectedApp reports whether ic is a TRIGGER verifiably
// sent by a connected app. Only such triggers may run destructive responses.
func (e *Engine) ReceivedTriggerFromConnectedApp(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	if ic == nil || !protocol.IsTriggerMessage(ic.Message) {
		return false, nil
	}
	sender, ok := e.resolver.ResolveSender(ic)
	if !ok {
		return false, nil
	}
	connected, err := e.store.GetFlag(ctx, relationships.Connected, sender)
	if err != nil {
		return false, fmt.Errorf("failed to read connection state for %s: %w", sender, err)
	}
	return connected, nil
}

// ShouldUseDefaultResponseToTrigger reports whether ic is a TRIGGER that did not
// come from a connected app, so only the responder's non-destructive default
// response applies.
func (e *Engine) ShouldUseDefaultResponseToTrigger(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	if ic == nil || !protocol.IsTriggerMessage(ic.Message) {
		return false, nil
	}
	trusted, err := e.ReceivedTriggerFromConnectedApp(ctx, ic)
	if err != nil {
		return false, err
	}
	return !trusted, nil
}

func (e *Engine) notify(ctx context.Context, action protocol.Action, id string) {
	if e.notifier == nil || id == e.self {
		return
	}
	log := e.logger.With().Str("action", string(action)).Str("responder_id", id).Logger()

	ep, ok, err := e.registry.Resolve(ctx, action, id, protocol.KindInteractive)
	if err != nil {
		log.Warn().Err(err).Msg("Could not resolve receiver for notification")
		return
	}
	if !ok {
		log.Debug().Msg("No interactive receiver installed, skipping notification")
		return
	}
	if err := e.notifier.Send(ctx, ep, protocol.NewMessage(action).ForTarget(id)); err != nil {
		log.Warn().Err(err).Msg("Notification not delivered")
		return
	}
	log.Debug().Msg("Notification delivered")
}
