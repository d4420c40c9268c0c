package inbound

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/illmade-knight/panic-signal/internal/clients"
)

// NewServer builds an HTTPS server for handler. Client certificates are
// requested and, when presented, verified against clientCAFile; deliveries
// without one still arrive but cannot be attributed.
func NewServer(addr string, handler http.Handler, clientCAFile string) (*http.Server, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.VerifyClientCertIfGiven,
	}
	if clientCAFile != "" {
		pool, err := clients.LoadCertPool(clientCAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
	} else {
		tlsConfig.ClientAuth = tls.NoClientCert
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
