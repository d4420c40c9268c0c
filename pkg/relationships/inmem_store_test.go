package relationships_test

import (
	"testing"

	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/illmade-knight/panic-signal/pkg/relationships/relationshipstest"
)

func TestInMemoryStore(t *testing.T) {
	relationshipstest.RunStoreTests(t, func(t *testing.T) relationships.Store {
		return relationships.NewInMemoryStore()
	})
}
