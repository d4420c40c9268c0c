package protocol

import (
	"fmt"
	"strings"
)

// EndpointKind determines whether a receiver can verify the sender and which
// delivery primitive reaches it.
type EndpointKind int

const (
	// KindInteractive endpoints receive request/response deliveries whose caller
	// the host can attribute.
	KindInteractive EndpointKind = iota
	// KindBroadcast endpoints receive fire-and-forget broadcasts.
	KindBroadcast
	// KindService endpoints are background services.
	KindService
)

// Kinds lists every kind in dispatch order.
var Kinds = []EndpointKind{KindInteractive, KindBroadcast, KindService}

func (k EndpointKind) String() string {
	switch k {
	case KindInteractive:
		return "interactive"
	case KindBroadcast:
		return "broadcast"
	case KindService:
		return "service"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Verifiable reports whether deliveries of this kind can carry a verified sender.
func (k EndpointKind) Verifiable() bool {
	return k == KindInteractive
}

// ParseEndpointKind parses the manifest spelling of a kind. "activity" and
// "receiver" are accepted as aliases.
func ParseEndpointKind(raw string) (EndpointKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "interactive", "activity":
		return KindInteractive, nil
	case "broadcast", "receiver":
		return KindBroadcast, nil
	case "service":
		return KindService, nil
	default:
		return 0, fmt.Errorf("unknown endpoint kind %q", raw)
	}
}

// MarshalText lets kinds appear by name in config and log output.
func (k EndpointKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *EndpointKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEndpointKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Endpoint is one discovered receiver of one responder.
type Endpoint struct {
	ID   string
	Kind EndpointKind
	// Address is kind specific: a URL for interactive endpoints, a topic for
	// broadcast endpoints and a routing recipient for services.
	Address  string
	Encoding Encoding
}

func (e Endpoint) String() string {
	return e.ID + "/" + e.Kind.String()
}

// InboundContext describes how an inbound message reached this app.
type InboundContext struct {
	Message *Message
	// Delivery is the primitive the message arrived on.
	Delivery EndpointKind
	// Caller is the identity the host attributed to the delivery, empty when the
	// host could not attribute one. It is never taken from message content.
	Caller string
	// Self is the identifier of the receiving app.
	Self string
}

// HasAction reports whether the context carries a message tagged action.
func (ic *InboundContext) HasAction(action Action) bool {
	return ic != nil && ic.Message != nil && ic.Message.Action == action
}
