package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
)

// ActionHeader carries the action tag alongside the encoded body.
const ActionHeader = "X-Panic-Action"

// InteractiveClient delivers messages to interactive endpoints with an HTTP POST
// to the endpoint address. When the underlying client presents a TLS client
// certificate the receiver can attribute the caller, which is what makes the
// handshake possible.
type InteractiveClient struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewInteractiveClient creates an InteractiveClient. A nil httpClient selects a
// plain client with DefaultTimeout.
func NewInteractiveClient(httpClient *http.Client, logger zerolog.Logger) *InteractiveClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &InteractiveClient{
		httpClient: httpClient,
		logger:     logger.With().Str("client", "interactive").Logger(),
	}
}

// Send implements dispatch.Sender and handshake.Notifier.
func (c *InteractiveClient) Send(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
	if ep.Address == "" {
		return fmt.Errorf("interactive endpoint %s has no address: %w", ep.ID, protocol.ErrEndpointNotFound)
	}
	body, err := protocol.Encode(ep.Encoding, msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", msg.Action, err)
	}
	req.Header.Set("Content-Type", ep.Encoding.ContentType())
	req.Header.Set(ActionHeader, string(msg.Action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", msg.Action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(ep.ID, resp.StatusCode)
	}

	c.logger.Info().Str("responder_id", ep.ID).Str("action", string(msg.Action)).Msg("Successfully delivered message")
	return nil
}

// NewTLSHTTPClient builds an HTTP client presenting the certificate in certFile
// and keyFile. caFile, when set, replaces the system roots for verifying servers.
func NewTLSHTTPClient(certFile, keyFile, caFile string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if caFile != "" {
		pool, err := LoadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// LoadCertPool reads PEM certificates from path.
func LoadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
