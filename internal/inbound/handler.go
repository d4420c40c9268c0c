// Package inbound exposes an app's receivers over HTTP and feeds inbound panic
// messages to the handshake engine or the app's trigger response.
package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/illmade-knight/panic-signal/pkg/handshake"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// TriggerHandler runs an app's response to a TRIGGER. trusted is true only when
// the trigger verifiably came from a connected app.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, ic *protocol.InboundContext, trusted bool) error
}

// TriggerHandlerFunc adapts a function to TriggerHandler.
type TriggerHandlerFunc func(ctx context.Context, ic *protocol.InboundContext, trusted bool) error

// HandleTrigger calls f.
func (f TriggerHandlerFunc) HandleTrigger(ctx context.Context, ic *protocol.InboundContext, trusted bool) error {
	return f(ctx, ic, trusted)
}

// Options configure a Handler.
type Options struct {
	// Self is the identifier of the receiving app.
	Self string
	// AdoptPartner makes an inbound CONNECT select the sender as this app's
	// single partner, as a responder does. Otherwise the sender is added to the
	// connected set, as a trigger app does.
	AdoptPartner bool
	// Triggers handles TRIGGER. Nil means the app has no TRIGGER receiver.
	Triggers TriggerHandler
}

// Handler routes inbound deliveries. Only POST /interactive can attribute a
// caller, taken from the verified TLS client certificate. /broadcast and
// /service deliveries are never attributed.
type Handler struct {
	engine *handshake.Engine
	opts   Options
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a Handler.
func NewHandler(engine *handshake.Engine, opts Options, logger zerolog.Logger) *Handler {
	h := &Handler{
		engine: engine,
		opts:   opts,
		logger: logger.With().Str("component", "inbound").Logger(),
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /interactive", h.deliveryHandler(protocol.KindInteractive))
	h.mux.HandleFunc("POST /broadcast", h.deliveryHandler(protocol.KindBroadcast))
	h.mux.HandleFunc("POST /service", h.deliveryHandler(protocol.KindService))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) deliveryHandler(kind protocol.EndpointKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		msg, err := protocol.Decode(protocol.EncodingForContentType(r.Header.Get("Content-Type")), body)
		if err != nil {
			h.logger.Warn().Err(err).Str("delivery", kind.String()).Msg("Rejecting undecodable message")
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}

		ic := &protocol.InboundContext{
			Message:  msg,
			Delivery: kind,
			Self:     h.opts.Self,
		}
		if kind == protocol.KindInteractive {
			ic.Caller = verifiedCaller(r)
		}

		status, err := h.process(r.Context(), ic)
		if errors.Is(err, relationships.ErrInvalidIdentifier) {
			h.logger.Warn().Err(err).Str("action", string(msg.Action)).Msg("Rejecting message from an unusable caller identity")
			http.Error(w, "invalid caller", http.StatusBadRequest)
			return
		}
		if err != nil {
			h.logger.Error().Err(err).Str("action", string(msg.Action)).Msg("Failed to process inbound message")
			http.Error(w, "setting not saved", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(status)
	}
}

// process applies ic and returns the HTTP status to report.
func (h *Handler) process(ctx context.Context, ic *protocol.InboundContext) (int, error) {
	switch ic.Message.Action {
	case protocol.ActionConnect:
		if h.opts.AdoptPartner {
			if _, err := h.engine.AdoptInboundPartner(ctx, ic); err != nil && !errors.Is(err, handshake.ErrSelfPartner) {
				return 0, err
			}
			return http.StatusAccepted, nil
		}
		if _, err := h.engine.CheckInboundConnect(ctx, ic); err != nil {
			return 0, err
		}
		return http.StatusAccepted, nil

	case protocol.ActionDisconnect:
		if _, err := h.engine.CheckInboundDisconnect(ctx, ic); err != nil {
			return 0, err
		}
		return http.StatusAccepted, nil

	case protocol.ActionTrigger:
		if h.opts.Triggers == nil {
			return http.StatusNotFound, nil
		}
		trusted, err := h.engine.ReceivedTriggerFromConnectedApp(ctx, ic)
		if err != nil {
			return 0, err
		}
		if err := h.opts.Triggers.HandleTrigger(ctx, ic, trusted); err != nil {
			return 0, err
		}
		return http.StatusAccepted, nil
	}
	return http.StatusBadRequest, nil
}

// verifiedCaller returns the common name of the verified client certificate.
func verifiedCaller(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return ""
	}
	return r.TLS.VerifiedChains[0][0].Subject.CommonName
}
