package inbound_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/panic-signal/internal/inbound"
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
	self    = "org.example.trigger"
	callerA = "org.example.a"
)

type triggerCall struct {
	ic      *protocol.InboundContext
	trusted bool
}

func newHandler(t *testing.T, opts inbound.Options) (*inbound.Handler, *relationships.InMemoryStore) {
	t.Helper()
	logger := zerolog.Nop()
	store := relationships.NewInMemoryStore()
	engine := handshake.NewEngine(
		store,
		registry.NewAdapter(registry.NewInMemoryHost(), logger),
		identity.NewResolver(logger),
		nil,
		opts.Self,
		logger,
	)
	return inbound.NewHandler(engine, opts, logger), store
}

func request(t *testing.T, path string, msg *protocol.Message, enc protocol.Encoding, caller string) *http.Request {
	t.Helper()
	body, err := protocol.Encode(enc, msg)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", enc.ContentType())
	if caller != "" {
		req.TLS = &tls.ConnectionState{
			VerifiedChains: [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: caller}}}},
		}
	}
	return req
}

func TestHandler_InteractiveConnect(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t, inbound.Options{Self: self})

	// Act
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/interactive", protocol.NewMessage(protocol.ActionConnect), protocol.EncodingJSON, callerA))

	// Assert
	assert.Equal(t, http.StatusAccepted, rec.Code)
	connected, err := store.GetFlag(ctx, relationships.Connected, callerA)
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestHandler_BroadcastIsNeverAttributed(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t, inbound.Options{Self: self})

	for _, path := range []string{"/broadcast", "/service"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request(t, path, protocol.NewMessage(protocol.ActionConnect), protocol.EncodingCBOR, callerA))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}

	has, err := store.HasAnyEntry(ctx, relationships.Connected)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHandler_InteractiveWithoutCertificate(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t, inbound.Options{Self: self})
	msg := protocol.NewMessage(protocol.ActionConnect)
	msg.TargetPackage = callerA

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/interactive", msg, protocol.EncodingJSON, ""))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	connected, err := store.GetFlag(ctx, relationships.Connected, callerA)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestHandler_Disconnect(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t, inbound.Options{Self: self})
	require.NoError(t, store.SetFlag(ctx, relationships.Connected, callerA, true))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/interactive", protocol.NewMessage(protocol.ActionDisconnect), protocol.EncodingJSON, callerA))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	connected, err := store.GetFlag(ctx, relationships.Connected, callerA)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestHandler_AdoptPartner(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t, inbound.Options{Self: callerA, AdoptPartner: true})
	require.NoError(t, store.SetFlag(ctx, relationships.Connected, "org.example.old", true))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/interactive", protocol.NewMessage(protocol.ActionConnect), protocol.EncodingJSON, self))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	ids, err := store.ListSet(ctx, relationships.Connected)
	require.NoError(t, err)
	assert.Equal(t, []string{self}, ids)
}

func TestHandler_Trigger(t *testing.T) {
	ctx := context.Background()
	var calls []triggerCall
	h, store := newHandler(t, inbound.Options{
		Self: callerA,
		Triggers: inbound.TriggerHandlerFunc(func(ctx context.Context, ic *protocol.InboundContext, trusted bool) error {
			calls = append(calls, triggerCall{ic: ic, trusted: trusted})
			return nil
		}),
	})
	require.NoError(t, store.SetFlag(ctx, relationships.Connected, self, true))
	msg := protocol.NewTriggerMessage(map[string]string{"message": "help"})

	// Act
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/interactive", msg, protocol.EncodingJSON, self))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/broadcast", msg, protocol.EncodingJSON, ""))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Assert
	require.Len(t, calls, 2)
	assert.True(t, calls[0].trusted)
	assert.Equal(t, "help", calls[0].ic.Message.Payload["message"])
	assert.False(t, calls[1].trusted)
	assert.Equal(t, protocol.KindBroadcast, calls[1].ic.Delivery)
}

func TestHandler_TriggerWithoutReceiver(t *testing.T) {
	h, _ := newHandler(t, inbound.Options{Self: self})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/service", protocol.NewTriggerMessage(nil), protocol.EncodingJSON, ""))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_TriggerHandlerError(t *testing.T) {
	h, _ := newHandler(t, inbound.Options{
		Self: callerA,
		Triggers: inbound.TriggerHandlerFunc(func(ctx context.Context, ic *protocol.InboundContext, trusted bool) error {
			return errors.New("response failed")
		}),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request(t, "/interactive", protocol.NewTriggerMessage(nil), protocol.EncodingJSON, self))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_RejectsBadInput(t *testing.T) {
	h, _ := newHandler(t, inbound.Options{Self: self})

	t.Run("Undecodable body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/interactive", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unknown action", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/interactive", bytes.NewReader([]byte(`{"action":"panic.action.PANIC"}`)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Caller identity with a slash", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request(t, "/interactive", protocol.NewMessage(protocol.ActionConnect), protocol.EncodingJSON, "org/example"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/interactive", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestNewServer(t *testing.T) {
	srv, err := inbound.NewServer(":0", http.NotFoundHandler(), "")
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, srv.TLSConfig.ClientAuth)

	_, err = inbound.NewServer(":0", http.NotFoundHandler(), t.TempDir()+"/missing.pem")
	assert.Error(t, err)
}
