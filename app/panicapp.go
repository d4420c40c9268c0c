// Package app provides the public surface of the panic-signal core: the
// operations a trigger app or responder UI calls.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/panic-signal/pkg/authz"
	"github.com/illmade-knight/panic-signal/pkg/dispatch"
	"github.com/illmade-knight/panic-signal/pkg/handshake"
	"github.com/illmade-knight/panic-signal/pkg/identity"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/illmade-knight/panic-signal/pkg/registry"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
)

// ErrSettingNotSaved wraps failures to persist a relationship change. The UI
// should tell the user the setting was not saved; nothing is retried. Registry
// reads and rejected identifiers are returned as they are.
var ErrSettingNotSaved = errors.New("setting not saved")

// Senders holds one delivery primitive per endpoint kind. A nil sender leaves
// that kind unreachable.
type Senders struct {
	Interactive dispatch.Sender
	Broadcast   dispatch.Sender
	Service     dispatch.Sender
}

// App is the central application struct. It wires the registry, relationship
// store, handshake engine, authorization view and dispatcher for one app.
type App struct {
	Self       string
	Registry   *registry.Adapter
	Handshake  *handshake.Engine
	View       *authz.View
	Dispatcher *dispatch.Dispatcher
	Logger     zerolog.Logger
}

// New creates a new, fully initialized App for the component identified by self.
func New(self string, store relationships.Store, host registry.Host, senders Senders, logger zerolog.Logger) *App {
	logger = logger.With().Str("self", self).Logger()
	reg := registry.NewAdapter(host, logger)
	view := authz.NewView(store, reg, logger)

	var notifier handshake.Notifier
	if senders.Interactive != nil {
		notifier = senders.Interactive
	}
	table := map[protocol.EndpointKind]dispatch.Sender{}
	if senders.Interactive != nil {
		table[protocol.KindInteractive] = senders.Interactive
	}
	if senders.Broadcast != nil {
		table[protocol.KindBroadcast] = senders.Broadcast
	}
	if senders.Service != nil {
		table[protocol.KindService] = senders.Service
	}

	return &App{
		Self:       self,
		Registry:   reg,
		Handshake:  handshake.NewEngine(store, reg, identity.NewResolver(logger), notifier, self, logger),
		View:       view,
		Dispatcher: dispatch.NewDispatcher(view, table, logger),
		Logger:     logger,
	}
}

// CheckInboundConnect reports whether ic carried a CONNECT, recording a verified sender.
func (a *App) CheckInboundConnect(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	received, err := a.Handshake.CheckInboundConnect(ctx, ic)
	return received, notSaved(err)
}

// CheckInboundDisconnect reports whether ic carried a DISCONNECT, clearing the
// connection when the sender is the connected party.
func (a *App) CheckInboundDisconnect(ctx context.Context, ic *protocol.InboundContext) (bool, error) {
	received, err := a.Handshake.CheckInboundDisconnect(ctx, ic)
	return received, notSaved(err)
}

// SetConnectionPartner changes the partner; "" or protocol.PartnerNone clears it.
func (a *App) SetConnectionPartner(ctx context.Context, partner string) error {
	return notSaved(a.Handshake.SetConnectionPartner(ctx, partner))
}

// ConnectionPartner returns the current partner, "" when there is none.
func (a *App) ConnectionPartner(ctx context.Context) (string, error) {
	return a.Handshake.ConnectionPartner(ctx)
}

// ListAllResponders returns every installed responder.
func (a *App) ListAllResponders(ctx context.Context) ([]string, error) {
	return a.View.AllResponders(ctx)
}

// ListConnectedResponders returns installed responders with a completed handshake.
func (a *App) ListConnectedResponders(ctx context.Context) ([]string, error) {
	return a.View.ConnectedResponders(ctx)
}

// ListEnabledResponders returns installed responders that receive TRIGGER. The
// first call on a fresh store enables everything installed.
func (a *App) ListEnabledResponders(ctx context.Context) ([]string, error) {
	ids, err := a.View.EnabledResponders(ctx)
	return ids, notSaved(err)
}

// ListConnectCapableResponders returns components able to complete a handshake.
func (a *App) ListConnectCapableResponders(ctx context.Context) ([]string, error) {
	return a.View.ConnectCapableResponders(ctx)
}

// TriggerApps returns installed trigger apps a responder can choose as partner.
func (a *App) TriggerApps(ctx context.Context) ([]string, error) {
	return a.Registry.ListTriggerApps(ctx)
}

// SetResponderEnabled includes or excludes id from TRIGGER fan-out.
func (a *App) SetResponderEnabled(ctx context.Context, id string, enabled bool) error {
	return notSaved(a.View.SetResponderEnabled(ctx, id, enabled))
}

// SendTrigger fans msg out to every eligible endpoint.
func (a *App) SendTrigger(ctx context.Context, msg *protocol.Message) error {
	return a.Dispatcher.SendTrigger(ctx, msg)
}

// IsTriggerMessage reports whether msg is tagged TRIGGER.
func IsTriggerMessage(msg *protocol.Message) bool {
	return protocol.IsTriggerMessage(msg)
}

func notSaved(err error) error {
	if !errors.Is(err, relationships.ErrWriteFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSettingNotSaved, err)
}
