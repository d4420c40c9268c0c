// Package registry discovers which installed components declare they can receive
// panic messages.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
)

// Declaration is a single receiver registration reported by the host.
type Declaration struct {
	ID       string
	Style    protocol.EndpointKind
	Address  string
	Encoding protocol.Encoding
}

// Host is the host component registry.
type Host interface {
	// QueryReceivers returns every registration that accepts action.
	QueryReceivers(ctx context.Context, action protocol.Action) ([]Declaration, error)
}

// Adapter answers discovery questions on top of a Host. It never caches: every
// call reflects the current install state.
type Adapter struct {
	host   Host
	logger zerolog.Logger
}

// NewAdapter creates an Adapter for host.
func NewAdapter(host Host, logger zerolog.Logger) *Adapter {
	return &Adapter{
		host:   host,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// ListTriggerCapableEndpoints returns one endpoint per (identifier, style) that
// accepts TRIGGER, ordered by kind then identifier.
func (a *Adapter) ListTriggerCapableEndpoints(ctx context.Context) ([]protocol.Endpoint, error) {
	decls, err := a.host.QueryReceivers(ctx, protocol.ActionTrigger)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger receivers: %w", err)
	}

	type key struct {
		id   string
		kind protocol.EndpointKind
	}
	seen := make(map[key]struct{}, len(decls))
	endpoints := make([]protocol.Endpoint, 0, len(decls))
	for _, d := range decls {
		if d.ID == "" {
			a.logger.Warn().Str("kind", d.Style.String()).Msg("Ignoring trigger receiver with blank identifier")
			continue
		}
		k := key{id: d.ID, kind: d.Style}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		endpoints = append(endpoints, protocol.Endpoint{
			ID:       d.ID,
			Kind:     d.Style,
			Address:  d.Address,
			Encoding: d.Encoding,
		})
	}
	sortEndpoints(endpoints)
	return endpoints, nil
}

// ListConnectCapableEndpoints returns the identifiers of every component that
// accepts CONNECT, whatever style it registered with.
func (a *Adapter) ListConnectCapableEndpoints(ctx context.Context) ([]string, error) {
	decls, err := a.host.QueryReceivers(ctx, protocol.ActionConnect)
	if err != nil {
		return nil, fmt.Errorf("failed to query connect receivers: %w", err)
	}
	return identifiers(decls), nil
}

// ListTriggerApps returns components that accept CONNECT but not TRIGGER. Trigger
// apps answer the handshake but only ever send TRIGGER, so a responder uses this
// list to offer partners in its settings.
func (a *Adapter) ListTriggerApps(ctx context.Context) ([]string, error) {
	connects, err := a.host.QueryReceivers(ctx, protocol.ActionConnect)
	if err != nil {
		return nil, fmt.Errorf("failed to query connect receivers: %w", err)
	}
	if len(connects) == 0 {
		return []string{}, nil
	}
	triggers, err := a.host.QueryReceivers(ctx, protocol.ActionTrigger)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger receivers: %w", err)
	}
	responders := make(map[string]struct{}, len(triggers))
	for _, d := range triggers {
		responders[d.ID] = struct{}{}
	}

	apps := make([]string, 0, len(connects))
	for _, id := range identifiers(connects) {
		if _, ok := responders[id]; !ok {
			apps = append(apps, id)
		}
	}
	return apps, nil
}

// Resolve finds the receiver of the given kind that component id registered for
// action. The bool is false when no such receiver is installed.
func (a *Adapter) Resolve(ctx context.Context, action protocol.Action, id string, kind protocol.EndpointKind) (protocol.Endpoint, bool, error) {
	decls, err := a.host.QueryReceivers(ctx, action)
	if err != nil {
		return protocol.Endpoint{}, false, fmt.Errorf("failed to query %s receivers: %w", action, err)
	}
	for _, d := range decls {
		if d.ID == id && d.Style == kind {
			return protocol.Endpoint{ID: d.ID, Kind: d.Style, Address: d.Address, Encoding: d.Encoding}, true, nil
		}
	}
	return protocol.Endpoint{}, false, nil
}

func identifiers(decls []Declaration) []string {
	seen := make(map[string]struct{}, len(decls))
	ids := make([]string, 0, len(decls))
	for _, d := range decls {
		if d.ID == "" {
			continue
		}
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}

func sortEndpoints(endpoints []protocol.Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Kind != endpoints[j].Kind {
			return endpoints[i].Kind < endpoints[j].Kind
		}
		return endpoints[i].ID < endpoints[j].ID
	})
}
