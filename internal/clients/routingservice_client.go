// Package clients provides the delivery primitives that carry panic messages to
// other apps: interactive HTTP, Pub/Sub broadcast and the routing service.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/illmade-knight/go-secure-messaging/pkg/transport"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 15 * time.Second

// RoutingServiceClient is responsible for all communication with the routing service.
type RoutingServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRoutingServiceClient creates a new client for the routing service. A nil
// httpClient selects a plain client with DefaultTimeout.
func NewRoutingServiceClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *RoutingServiceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &RoutingServiceClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With().Str("client", "routing-service").Logger(),
	}
}

// Send dispatches a SecureEnvelope to the routing service for delivery.
func (c *RoutingServiceClient) Send(ctx context.Context, envelope *transport.SecureEnvelope) error {
	url := c.baseURL + "/send"

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal secure envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create send envelope request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute send envelope request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return statusError("routing service", resp.StatusCode)
	}

	c.logger.Info().Str("sender_id", envelope.SenderID).Str("recipient_id", envelope.RecipientID).Msg("Successfully sent envelope to routing service")
	return nil
}

// EnvelopeSender defines the interface for a component that can send a secure envelope.
type EnvelopeSender interface {
	Send(ctx context.Context, envelope *transport.SecureEnvelope) error
}

// ServiceSender delivers messages to service endpoints by wrapping the encoded
// message in an envelope for the routing service. The receiving service cannot
// verify SenderID.
type ServiceSender struct {
	self   string
	router EnvelopeSender
	logger zerolog.Logger
}

// NewServiceSender creates a ServiceSender that addresses envelopes from self.
func NewServiceSender(self string, router EnvelopeSender, logger zerolog.Logger) *ServiceSender {
	return &ServiceSender{
		self:   self,
		router: router,
		logger: logger.With().Str("client", "service-sender").Logger(),
	}
}

// Send implements dispatch.Sender.
func (s *ServiceSender) Send(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
	data, err := protocol.Encode(ep.Encoding, msg)
	if err != nil {
		return err
	}
	recipient := ep.Address
	if recipient == "" {
		recipient = ep.ID
	}
	envelope := &transport.SecureEnvelope{
		SenderID:      s.self,
		RecipientID:   recipient,
		EncryptedData: data,
	}
	if err := s.router.Send(ctx, envelope); err != nil {
		return fmt.Errorf("failed to route %s to %s: %w", msg.Action, ep.ID, err)
	}
	s.logger.Debug().Str("responder_id", ep.ID).Str("action", string(msg.Action)).Msg("Message routed")
	return nil
}

// statusError maps delivery-boundary HTTP statuses onto the protocol sentinels.
func statusError(service string, code int) error {
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%s returned %d: %w", service, code, protocol.ErrEndpointNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s returned %d: %w", service, code, protocol.ErrPermissionDenied)
	default:
		return fmt.Errorf("%s returned unexpected status code: %d", service, code)
	}
}
