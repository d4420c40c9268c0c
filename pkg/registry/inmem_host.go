// FILE: registry/inmem_host.go

package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/illmade-knight/panic-signal/pkg/protocol"
)

// Receiver is one receiver a component declares.
type Receiver struct {
	Action   protocol.Action
	Style    protocol.EndpointKind
	Address  string
	Encoding protocol.Encoding
}

// Component is an installed app and the receivers it declares.
type Component struct {
	ID        string
	Receivers []Receiver
}

// InMemoryHost is a thread-safe, in-memory implementation of the Host interface.
type InMemoryHost struct {
	sync.RWMutex
	components map[string]Component
}

// NewInMemoryHost creates an empty host.
func NewInMemoryHost(components ...Component) *InMemoryHost {
	h := &InMemoryHost{components: make(map[string]Component)}
	for _, c := range components {
		h.components[c.ID] = c
	}
	return h
}

// Install adds or replaces a component.
func (h *InMemoryHost) Install(c Component) {
	h.Lock()
	defer h.Unlock()
	h.components[c.ID] = c
}

// Uninstall removes a component. Unknown identifiers are ignored.
func (h *InMemoryHost) Uninstall(id string) {
	h.Lock()
	defer h.Unlock()
	delete(h.components, id)
}

// QueryReceivers implements Host.
func (h *InMemoryHost) QueryReceivers(ctx context.Context, action protocol.Action) ([]Declaration, error) {
	h.RLock()
	defer h.RUnlock()

	ids := make([]string, 0, len(h.components))
	for id := range h.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var decls []Declaration
	for _, id := range ids {
		decls = append(decls, declarationsFor(h.components[id], action)...)
	}
	return decls, nil
}

func declarationsFor(c Component, action protocol.Action) []Declaration {
	var decls []Declaration
	for _, r := range c.Receivers {
		if r.Action != action {
			continue
		}
		decls = append(decls, Declaration{
			ID:       c.ID,
			Style:    r.Style,
			Address:  r.Address,
			Encoding: r.Encoding,
		})
	}
	return decls
}

// Responder builds a component that receives TRIGGER with the given styles and,
// when connectable, CONNECT and DISCONNECT on an interactive receiver.
func Responder(id string, connectable bool, styles ...protocol.EndpointKind) Component {
	c := Component{ID: id}
	for _, s := range styles {
		c.Receivers = append(c.Receivers, Receiver{Action: protocol.ActionTrigger, Style: s, Address: id})
	}
	if connectable {
		c.Receivers = append(c.Receivers,
			Receiver{Action: protocol.ActionConnect, Style: protocol.KindInteractive, Address: id},
			Receiver{Action: protocol.ActionDisconnect, Style: protocol.KindInteractive, Address: id},
		)
	}
	return c
}
