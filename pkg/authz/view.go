// Package authz answers which responders exist, which are connected and which
// are allowed to receive TRIGGER fan-out.
package authz

import (
	"context"
	"fmt"
	"sort"

	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/illmade-knight/panic-signal/pkg/registry"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
)

// View combines live registry data with stored relationship flags. Stored flags
// are always intersected with what is currently installed, so uninstalled
// responders drop out without store cleanup.
type View struct {
	store    relationships.Store
	registry *registry.Adapter
	logger   zerolog.Logger
}

// NewView creates a View.
func NewView(store relationships.Store, reg *registry.Adapter, logger zerolog.Logger) *View {
	return &View{
		store:    store,
		registry: reg,
		logger:   logger.With().Str("component", "authz").Logger(),
	}
}

// AllResponders returns every installed component with a TRIGGER receiver of any kind.
func (v *View) AllResponders(ctx context.Context) ([]string, error) {
	endpoints, err := v.registry.ListTriggerCapableEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	return responderIDs(endpoints), nil
}

// ConnectedResponders returns installed responders with a completed handshake.
func (v *View) ConnectedResponders(ctx context.Context) ([]string, error) {
	all, err := v.AllResponders(ctx)
	if err != nil {
		return nil, err
	}
	connected, err := v.store.ListSet(ctx, relationships.Connected)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected responders: %w", err)
	}
	return intersect(all, connected), nil
}

// EnsureInitialized applies the first-run policy: when the Enabled category has
// never been written, every currently installed responder is stored as enabled.
// It reports whether the baseline was written by this call. Once any Enabled
// entry exists this is a no-op, so responders installed later stay disabled
// until enabled explicitly.
func (v *View) EnsureInitialized(ctx context.Context) (bool, error) {
	all, err := v.AllResponders(ctx)
	if err != nil {
		return false, err
	}
	return v.ensureInitialized(ctx, all)
}

func (v *View) ensureInitialized(ctx context.Context, all []string) (bool, error) {
	initialized, err := v.store.HasAnyEntry(ctx, relationships.Enabled)
	if err != nil {
		return false, fmt.Errorf("failed to check enabled responders: %w", err)
	}
	if initialized || len(all) == 0 {
		return false, nil
	}

	// All or nothing: any stored entry marks first run as done.
	if err := v.store.SetFlags(ctx, relationships.Enabled, all, true); err != nil {
		return false, fmt.Errorf("failed to enable responders on first run: %w", relationships.WriteFailed(err))
	}
	v.logger.Info().Strs("responders", all).Msg("First run, all installed responders enabled")
	return true, nil
}

// EnabledResponders returns installed responders the user allows to receive
// TRIGGER. It runs EnsureInitialized first.
func (v *View) EnabledResponders(ctx context.Context) ([]string, error) {
	all, err := v.AllResponders(ctx)
	if err != nil {
		return nil, err
	}
	return v.enabled(ctx, all)
}

func (v *View) enabled(ctx context.Context, all []string) ([]string, error) {
	if _, err := v.ensureInitialized(ctx, all); err != nil {
		return nil, err
	}
	enabled, err := v.store.ListSet(ctx, relationships.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled responders: %w", err)
	}
	return intersect(all, enabled), nil
}

// ConnectCapableResponders returns components that accept CONNECT. Only these
// can be trusted with destructive responses; the caller enforces that policy.
func (v *View) ConnectCapableResponders(ctx context.Context) ([]string, error) {
	return v.registry.ListConnectCapableEndpoints(ctx)
}

// SetResponderEnabled stores the user's choice for id. The first-run baseline is
// established before the write so that a choice made before any listing does
// not suppress it.
func (v *View) SetResponderEnabled(ctx context.Context, id string, enabled bool) error {
	if _, err := v.EnsureInitialized(ctx); err != nil {
		return err
	}
	if err := v.store.SetFlag(ctx, relationships.Enabled, id, enabled); err != nil {
		return fmt.Errorf("failed to set %s enabled=%t: %w", id, enabled, relationships.WriteFailed(err))
	}
	v.logger.Info().Str("responder_id", id).Bool("enabled", enabled).Msg("Responder preference saved")
	return nil
}

// EligibleEndpoints computes the TRIGGER fan-out set: every installed TRIGGER
// endpoint whose responder is enabled. It is never cached.
func (v *View) EligibleEndpoints(ctx context.Context) ([]protocol.Endpoint, error) {
	endpoints, err := v.registry.ListTriggerCapableEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	enabled, err := v.enabled(ctx, responderIDs(endpoints))
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		allowed[id] = struct{}{}
	}
	eligible := make([]protocol.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, ok := allowed[ep.ID]; ok {
			eligible = append(eligible, ep)
		}
	}
	return eligible, nil
}

func responderIDs(endpoints []protocol.Endpoint) []string {
	seen := make(map[string]struct{}, len(endpoints))
	ids := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, ok := seen[ep.ID]; ok {
			continue
		}
		seen[ep.ID] = struct{}{}
		ids = append(ids, ep.ID)
	}
	sort.Strings(ids)
	return ids
}

// intersect returns the members of live that are also in stored, in live order.
func intersect(live, stored []string) []string {
	set := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(live))
	for _, id := range live {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
