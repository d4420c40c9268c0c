// FILE: relationships/store.go

// Package relationships persists the per-responder connected and enabled flags.
package relationships

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category names an independent flag namespace.
type Category string

const (
	// Connected is set once a verified CONNECT handshake completes and cleared by DISCONNECT.
	Connected Category = "connected"
	// Enabled gates whether a responder receives TRIGGER fan-out.
	Enabled Category = "enabled"
)

// Categories lists every category.
var Categories = []Category{Connected, Enabled}

var (
	ErrUnknownCategory   = errors.New("unknown relationship category")
	ErrInvalidIdentifier = errors.New("invalid responder identifier")
	// ErrWriteFailed marks a flag write the store could not persist.
	ErrWriteFailed = errors.New("relationship write failed")
)

// WriteFailed tags err from SetFlag or SetFlags with ErrWriteFailed. Rejected
// input is returned unchanged, since nothing was attempted.
func WriteFailed(err error) error {
	if err == nil || errors.Is(err, ErrInvalidIdentifier) || errors.Is(err, ErrUnknownCategory) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

// Store is the interface for persisting relationship flags.
// Writes must be durable before SetFlag returns. A flag explicitly set to false
// is still an entry: HasAnyEntry reports it.
type Store interface {
	// SetFlag records value for id in category.
	SetFlag(ctx context.Context, category Category, id string, value bool) error
	// SetFlags records value for every id in one atomic write. On error none
	// of the ids are stored.
	SetFlags(ctx context.Context, category Category, ids []string, value bool) error
	// GetFlag returns the stored value, false when absent.
	GetFlag(ctx context.Context, category Category, id string) (bool, error)
	// ListSet returns the identifiers whose flag is true, sorted.
	ListSet(ctx context.Context, category Category) ([]string, error)
	// HasAnyEntry reports whether category has ever been written.
	HasAnyEntry(ctx context.Context, category Category) (bool, error)
}

// ValidateCategory rejects categories other than Connected and Enabled.
func ValidateCategory(category Category) error {
	switch category {
	case Connected, Enabled:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// ValidateIdentifiers applies ValidateIdentifier to each id.
func ValidateIdentifiers(ids []string) error {
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIdentifier rejects blank identifiers and ones containing a slash,
// which no backend can key on.
func ValidateIdentifier(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: identifier is blank", ErrInvalidIdentifier)
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidIdentifier, id)
	}
	return nil
}
