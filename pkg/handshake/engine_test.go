package handshake_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/panic-signal/pkg/handshake"
	"github.com/illmade-knight/panic-signal/pkg/identity"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/illmade-knight/panic-signal/pkg/registry"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	triggerApp = "org.example.trigger"
	responderA = "org.example.a"
	responderB = "org.example.b"
)

// --- Mocks ---

type notification struct {
	Endpoint protocol.Endpoint
	Action   protocol.Action
	Target   string
}

type mockNotifier struct {
	mu       sync.Mutex
	sent     []notification
	SendFunc func(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error
}

func (m *mockNotifier) Send(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, notification{Endpoint: ep, Action: msg.Action, Target: msg.TargetPackage})
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, ep, msg)
	}
	return nil
}

func (m *mockNotifier) Sent() []notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification(nil), m.sent...)
}

// --- Helpers ---

type fixture struct {
	store    *relationships.InMemoryStore
	host     *registry.InMemoryHost
	notifier *mockNotifier
}

func newEngine(t *testing.T, self string, components ...registry.Component) (*handshake.Engine, fixture) {
	t.Helper()
	logger := zerolog.Nop()
	f := fixture{
		store:    relationships.NewInMemoryStore(),
		host:     registry.NewInMemoryHost(components...),
		notifier: &mockNotifier{},
	}
	engine := handshake.NewEngine(
		f.store,
		registry.NewAdapter(f.host, logger),
		identity.NewResolver(logger),
		f.notifier,
		self,
		logger,
	)
	return engine, f
}

func inbound(action protocol.Action, delivery protocol.EndpointKind, caller, self string) *protocol.InboundContext {
	return &protocol.InboundContext{
		Message:  protocol.NewMessage(action),
		Delivery: delivery,
		Caller:   caller,
		Self:     self,
	}
}

func connected(t *testing.T, store relationships.Store, id string) bool {
	t.Helper()
	v, err := store.GetFlag(context.Background(), relationships.Connected, id)
	require.NoError(t, err)
	return v
}

// --- Tests ---

func TestEngine_CheckInboundConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Verified sender becomes connected", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)

		received, err := engine.CheckInboundConnect(ctx, inbound(protocol.ActionConnect, protocol.KindInteractive, responderA, triggerApp))

		require.NoError(t, err)
		assert.True(t, received)
		assert.True(t, connected(t, f.store, responderA))
	})

	t.Run("Unverified CONNECT is received but not applied", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)

		for _, kind := range []protocol.EndpointKind{protocol.KindBroadcast, protocol.KindService} {
			received, err := engine.CheckInboundConnect(ctx, inbound(protocol.ActionConnect, kind, responderA, triggerApp))
			require.NoError(t, err)
			assert.True(t, received)
		}

		has, err := f.store.HasAnyEntry(ctx, relationships.Connected)
		require.NoError(t, err)
		assert.False(t, has, "store must be untouched")
	})

	t.Run("CONNECT from self is not applied", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)

		received, err := engine.CheckInboundConnect(ctx, inbound(protocol.ActionConnect, protocol.KindInteractive, triggerApp, triggerApp))

		require.NoError(t, err)
		assert.True(t, received)
		assert.False(t, connected(t, f.store, triggerApp))
	})

	t.Run("Other actions are not a CONNECT", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)

		received, err := engine.CheckInboundConnect(ctx, inbound(protocol.ActionTrigger, protocol.KindInteractive, responderA, triggerApp))
		require.NoError(t, err)
		assert.False(t, received)

		received, err = engine.CheckInboundConnect(ctx, nil)
		require.NoError(t, err)
		assert.False(t, received)
		assert.False(t, connected(t, f.store, responderA))
	})

	t.Run("Repeated CONNECT is idempotent", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)
		ic := inbound(protocol.ActionConnect, protocol.KindInteractive, responderA, triggerApp)

		_, err := engine.CheckInboundConnect(ctx, ic)
		require.NoError(t, err)
		_, err = engine.CheckInboundConnect(ctx, ic)
		require.NoError(t, err)

		ids, err := f.store.ListSet(ctx, relationships.Connected)
		require.NoError(t, err)
		assert.Equal(t, []string{responderA}, ids)
	})
}

func TestEngine_CheckInboundDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Connect then disconnect round trip", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)

		_, err := engine.CheckInboundConnect(ctx, inbound(protocol.ActionConnect, protocol.KindInteractive, responderA, triggerApp))
		require.NoError(t, err)
		received, err := engine.CheckInboundDisconnect(ctx, inbound(protocol.ActionDisconnect, protocol.KindInteractive, responderA, triggerApp))

		require.NoError(t, err)
		assert.True(t, received)
		assert.False(t, connected(t, f.store, responderA))
	})

	t.Run("Only the connected party can disconnect itself", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)
		require.NoError(t, f.store.SetFlag(ctx, relationships.Connected, responderA, true))

		received, err := engine.CheckInboundDisconnect(ctx, inbound(protocol.ActionDisconnect, protocol.KindInteractive, responderB, triggerApp))

		require.NoError(t, err)
		assert.True(t, received)
		assert.True(t, connected(t, f.store, responderA))
		assert.False(t, connected(t, f.store, responderB))
	})

	t.Run("Unverified DISCONNECT changes nothing", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)
		require.NoError(t, f.store.SetFlag(ctx, relationships.Connected, responderA, true))

		received, err := engine.CheckInboundDisconnect(ctx, inbound(protocol.ActionDisconnect, protocol.KindBroadcast, responderA, triggerApp))

		require.NoError(t, err)
		assert.True(t, received)
		assert.True(t, connected(t, f.store, responderA))
	})

	t.Run("Payload target is not trusted", func(t *testing.T) {
		engine, f := newEngine(t, triggerApp)
		require.NoError(t, f.store.SetFlag(ctx, relationships.Connected, responderA, true))
		ic := inbound(protocol.ActionDisconnect, protocol.KindInteractive, "", triggerApp)
		ic.Message.TargetPackage = responderA

		received, err := engine.CheckInboundDisconnect(ctx, ic)

		require.NoError(t, err)
		assert.True(t, received)
		assert.True(t, connected(t, f.store, responderA))
	})
}

func TestEngine_SetConnectionPartner(t *testing.T) {
	ctx := context.Background()
	components := []registry.Component{
		registry.Responder(triggerApp, true),
		registry.Responder(responderA, true, protocol.KindInteractive),
		registry.Responder(responderB, true, protocol.KindBroadcast),
	}

	t.Run("First partner receives CONNECT", func(t *testing.T) {
		engine, f := newEngine(t, responderA, components...)

		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		partner, err := engine.ConnectionPartner(ctx)
		require.NoError(t, err)
		assert.Equal(t, triggerApp, partner)
		require.Len(t, f.notifier.Sent(), 1)
		assert.Equal(t, protocol.ActionConnect, f.notifier.Sent()[0].Action)
		assert.Equal(t, triggerApp, f.notifier.Sent()[0].Target)
		assert.Equal(t, protocol.KindInteractive, f.notifier.Sent()[0].Endpoint.Kind)
	})

	t.Run("Switching partner disconnects the previous one first", func(t *testing.T) {
		engine, f := newEngine(t, responderA, components...)
		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		require.NoError(t, engine.SetConnectionPartner(ctx, responderB))

		sent := f.notifier.Sent()
		require.Len(t, sent, 3)
		assert.Equal(t, protocol.ActionDisconnect, sent[1].Action)
		assert.Equal(t, triggerApp, sent[1].Target)
		assert.Equal(t, protocol.ActionConnect, sent[2].Action)
		assert.Equal(t, responderB, sent[2].Target)
		assert.False(t, connected(t, f.store, triggerApp))
		assert.True(t, connected(t, f.store, responderB))
	})

	t.Run("Unchanged partner sends nothing", func(t *testing.T) {
		engine, f := newEngine(t, responderA, components...)
		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		assert.Len(t, f.notifier.Sent(), 1)
	})

	t.Run("NONE and DEFAULT clear the partner", func(t *testing.T) {
		for _, none := range []string{"", protocol.PartnerNone, protocol.PartnerDefault} {
			engine, f := newEngine(t, responderA, components...)
			require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

			require.NoError(t, engine.SetConnectionPartner(ctx, none))

			partner, err := engine.ConnectionPartner(ctx)
			require.NoError(t, err)
			assert.Empty(t, partner)
			sent := f.notifier.Sent()
			require.Len(t, sent, 2)
			assert.Equal(t, protocol.ActionDisconnect, sent[1].Action)
		}
	})

	t.Run("Self is refused", func(t *testing.T) {
		engine, f := newEngine(t, responderA, components...)

		err := engine.SetConnectionPartner(ctx, responderA)

		assert.ErrorIs(t, err, handshake.ErrSelfPartner)
		assert.Empty(t, f.notifier.Sent())
	})

	t.Run("Partner without a receiver is still recorded", func(t *testing.T) {
		engine, f := newEngine(t, responderA)

		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		assert.True(t, connected(t, f.store, triggerApp))
		assert.Empty(t, f.notifier.Sent())
	})

	t.Run("Delivery failure is not an error", func(t *testing.T) {
		engine, f := newEngine(t, responderA, components...)
		f.notifier.SendFunc = func(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
			return protocol.ErrEndpointNotFound
		}

		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))
		assert.True(t, connected(t, f.store, triggerApp))
	})

	t.Run("Uninstalled partner is not reported", func(t *testing.T) {
		engine, f := newEngine(t, responderA, components...)
		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		f.host.Uninstall(triggerApp)

		partner, err := engine.ConnectionPartner(ctx)
		require.NoError(t, err)
		assert.Empty(t, partner)
	})
}

// clearFailsStore refuses to clear any connection.
type clearFailsStore struct {
	*relationships.InMemoryStore
}

func (s clearFailsStore) SetFlag(ctx context.Context, category relationships.Category, id string, value bool) error {
	if !value {
		return errors.New("disk full")
	}
	return s.InMemoryStore.SetFlag(ctx, category, id, value)
}

func TestEngine_SetConnectionPartnerClearFailure(t *testing.T) {
	// Arrange
	ctx := context.Background()
	logger := zerolog.Nop()
	store := clearFailsStore{InMemoryStore: relationships.NewInMemoryStore()}
	require.NoError(t, store.SetFlag(ctx, relationships.Connected, triggerApp, true))
	notifier := &mockNotifier{}
	host := registry.NewInMemoryHost(
		registry.Responder(triggerApp, true),
		registry.Responder(responderB, true, protocol.KindInteractive),
	)
	engine := handshake.NewEngine(store, registry.NewAdapter(host, logger), identity.NewResolver(logger), notifier, responderA, logger)

	// Act
	err := engine.SetConnectionPartner(ctx, responderB)

	// Assert: the old partner is still connected locally and was not told otherwise
	assert.ErrorIs(t, err, relationships.ErrWriteFailed)
	assert.True(t, connected(t, store, triggerApp))
	assert.Empty(t, notifier.Sent())
}

func TestEngine_AdoptInboundPartner(t *testing.T) {
	ctx := context.Background()

	t.Run("Adopts the verified caller", func(t *testing.T) {
		engine, f := newEngine(t, responderA, registry.Responder(triggerApp, true))

		changed, err := engine.AdoptInboundPartner(ctx, inbound(protocol.ActionConnect, protocol.KindInteractive, triggerApp, responderA))

		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, connected(t, f.store, triggerApp))
	})

	t.Run("Launch by self keeps the existing partner", func(t *testing.T) {
		engine, f := newEngine(t, responderA)
		require.NoError(t, engine.SetConnectionPartner(ctx, triggerApp))

		changed, err := engine.AdoptInboundPartner(ctx, inbound(protocol.ActionConnect, protocol.KindInteractive, responderA, responderA))

		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, connected(t, f.store, triggerApp))
		assert.False(t, connected(t, f.store, responderA))
	})

	t.Run("Nothing attributable is ignored", func(t *testing.T) {
		engine, f := newEngine(t, responderA)
		ic := inbound(protocol.ActionConnect, protocol.KindBroadcast, "", responderA)
		ic.Message.TargetPackage = triggerApp

		changed, err := engine.AdoptInboundPartner(ctx, ic)

		require.NoError(t, err)
		assert.False(t, changed)
		assert.False(t, connected(t, f.store, triggerApp))
	})
}

func TestEngine_TriggerTrust(t *testing.T) {
	ctx := context.Background()
	engine, f := newEngine(t, responderA)
	require.NoError(t, f.store.SetFlag(ctx, relationships.Connected, triggerApp, true))

	testCases := []struct {
		name        string
		ic          *protocol.InboundContext
		fromPartner bool
		useDefault  bool
	}{
		{
			name:        "Trigger from connected app",
			ic:          inbound(protocol.ActionTrigger, protocol.KindInteractive, triggerApp, responderA),
			fromPartner: true,
		},
		{
			name:       "Trigger from unknown app",
			ic:         inbound(protocol.ActionTrigger, protocol.KindInteractive, responderB, responderA),
			useDefault: true,
		},
		{
			name:       "Broadcast trigger cannot be attributed",
			ic:         inbound(protocol.ActionTrigger, protocol.KindBroadcast, triggerApp, responderA),
			useDefault: true,
		},
		{
			name: "Not a trigger",
			ic:   inbound(protocol.ActionConnect, protocol.KindInteractive, triggerApp, responderA),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fromPartner, err := engine.ReceivedTriggerFromConnectedApp(ctx, tc.ic)
			require.NoError(t, err)
			assert.Equal(t, tc.fromPartner, fromPartner)

			useDefault, err := engine.ShouldUseDefaultResponseToTrigger(ctx, tc.ic)
			require.NoError(t, err)
			assert.Equal(t, tc.useDefault, useDefault)
		})
	}
}

type failingStore struct {
	relationships.Store
}

func (failingStore) ListSet(ctx context.Context, category relationships.Category) ([]string, error) {
	return nil, errors.New("disk on fire")
}

func TestEngine_StoreErrorSurfaces(t *testing.T) {
	logger := zerolog.Nop()
	engine := handshake.NewEngine(
		failingStore{Store: relationships.NewInMemoryStore()},
		registry.NewAdapter(registry.NewInMemoryHost(), logger),
		identity.NewResolver(logger),
		nil,
		responderA,
		logger,
	)

	err := engine.SetConnectionPartner(context.Background(), triggerApp)

	assert.ErrorContains(t, err, "disk on fire")
}
