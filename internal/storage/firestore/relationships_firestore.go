// Package firestore provides persistent storage implementations using Google Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollectionPrefix is prepended to the category name to form a collection ID.
const DefaultCollectionPrefix = "panic-"

// flagDocument is the private struct for Firestore marshalling.
type flagDocument struct {
	Value     bool      `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// RelationshipStore is a concrete implementation of the relationships.Store
// interface using Firestore. Each category is its own collection and each
// responder a document keyed by its identifier.
type RelationshipStore struct {
	client      *firestore.Client
	collections map[relationships.Category]*firestore.CollectionRef
}

// NewRelationshipStore creates a Firestore-backed relationship store. An empty
// prefix selects DefaultCollectionPrefix.
func NewRelationshipStore(client *firestore.Client, prefix string) *RelationshipStore {
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}
	collections := make(map[relationships.Category]*firestore.CollectionRef, len(relationships.Categories))
	for _, cat := range relationships.Categories {
		collections[cat] = client.Collection(prefix + string(cat))
	}
	return &RelationshipStore{
		client:      client,
		collections: collections,
	}
}

func (s *RelationshipStore) collection(category relationships.Category) (*firestore.CollectionRef, error) {
	if err := relationships.ValidateCategory(category); err != nil {
		return nil, err
	}
	return s.collections[category], nil
}

// SetFlag writes the flag document. Set returns once the write is committed.
func (s *RelationshipStore) SetFlag(ctx context.Context, category relationships.Category, id string, value bool) error {
	coll, err := s.collection(category)
	if err != nil {
		return err
	}
	if err := relationships.ValidateIdentifier(id); err != nil {
		return err
	}
	_, err = coll.Doc(id).Set(ctx, flagDocument{
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to set %s flag for %s: %w", category, id, err)
	}
	return nil
}

// SetFlags writes every flag document in one transaction, so either all
// documents are committed or none are.
func (s *RelationshipStore) SetFlags(ctx context.Context, category relationships.Category, ids []string, value bool) error {
	coll, err := s.collection(category)
	if err != nil {
		return err
	}
	if err := relationships.ValidateIdentifiers(ids); err != nil {
		return err
	}
	now := time.Now().UTC()
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range ids {
			if err := tx.Set(coll.Doc(id), flagDocument{Value: value, UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s flags for %v: %w", category, ids, err)
	}
	return nil
}

// GetFlag returns the flag value, false when the document does not exist.
func (s *RelationshipStore) GetFlag(ctx context.Context, category relationships.Category, id string) (bool, error) {
	coll, err := s.collection(category)
	if err != nil {
		return false, err
	}
	if relationships.ValidateIdentifier(id) != nil {
		return false, nil
	}
	doc, err := coll.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s flag for %s: %w", category, id, err)
	}
	var fd flagDocument
	if err := doc.DataTo(&fd); err != nil {
		return false, err
	}
	return fd.Value, nil
}

// ListSet returns the identifiers whose flag is true, sorted by document ID.
func (s *RelationshipStore) ListSet(ctx context.Context, category relationships.Category) ([]string, error) {
	coll, err := s.collection(category)
	if err != nil {
		return nil, err
	}
	iter := coll.Where("value", "==", true).Documents(ctx)
	defer iter.Stop()

	ids := []string{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", category, err)
		}
		ids = append(ids, doc.Ref.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// HasAnyEntry reports whether the category collection holds any document.
func (s *RelationshipStore) HasAnyEntry(ctx context.Context, category relationships.Category) (bool, error) {
	coll, err := s.collection(category)
	if err != nil {
		return false, err
	}
	iter := coll.Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err = iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", category, err)
	}
	return true, nil
}
