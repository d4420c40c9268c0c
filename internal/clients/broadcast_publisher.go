package clients

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Attribute keys set on every published broadcast.
const (
	AttrAction      = "action"
	AttrTarget      = "target"
	AttrContentType = "content-type"
)

// BroadcastPublisher delivers messages to broadcast endpoints by publishing to
// the endpoint's Pub/Sub topic. Subscribers cannot tell who published.
type BroadcastPublisher struct {
	client *pubsub.Client
	logger zerolog.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewBroadcastPublisher creates a BroadcastPublisher over client.
func NewBroadcastPublisher(client *pubsub.Client, logger zerolog.Logger) *BroadcastPublisher {
	return &BroadcastPublisher{
		client:     client,
		logger:     logger.With().Str("client", "pubsub-broadcast").Logger(),
		publishers: make(map[string]*pubsub.Publisher),
	}
}

func (p *BroadcastPublisher) publisher(topicID string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topicID]
	if !ok {
		pub = p.client.Publisher(topicID)
		p.publishers[topicID] = pub
	}
	return pub
}

// Send implements dispatch.Sender. The endpoint address is the topic ID; an
// empty address falls back to the responder identifier.
func (p *BroadcastPublisher) Send(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
	data, err := protocol.Encode(ep.Encoding, msg)
	if err != nil {
		return err
	}
	topicID := ep.Address
	if topicID == "" {
		topicID = ep.ID
	}

	result := p.publisher(topicID).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrAction:      string(msg.Action),
			AttrTarget:      msg.TargetPackage,
			AttrContentType: ep.Encoding.ContentType(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return publishError(topicID, err)
	}

	p.logger.Info().Str("responder_id", ep.ID).Str("topic", topicID).Msg("Successfully published broadcast")
	return nil
}

// Stop flushes and stops every publisher created so far.
func (p *BroadcastPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, id)
	}
}

func publishError(topicID string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("topic %s: %w: %v", topicID, protocol.ErrEndpointNotFound, err)
	case codes.PermissionDenied:
		return fmt.Errorf("topic %s: %w: %v", topicID, protocol.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("failed to publish to %s: %w", topicID, err)
	}
}
