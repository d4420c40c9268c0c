//go:build integration

package firestore_test

import (
	"context"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	fst "github.com/illmade-knight/panic-signal/internal/storage/firestore"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/illmade-knight/panic-signal/pkg/relationships/relationshipstest"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRelationshipsTest(t *testing.T) (context.Context, *firestore.Client) {
	t.Helper()
	ctx := context.Background()
	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig("test-project"))
	fsClient, err := firestore.NewClient(ctx, "test-project", fsConn.ClientOptions...)
	require.NoError(t, err)

	t.Cleanup(func() {
		fsClient.Close()
	})
	return ctx, fsClient
}

func TestRelationshipStore(t *testing.T) {
	_, fsClient := setupRelationshipsTest(t)

	// Each subtest gets its own collections so the emulator can be shared.
	relationshipstest.RunStoreTests(t, func(t *testing.T) relationships.Store {
		return fst.NewRelationshipStore(fsClient, "test-"+uuid.NewString()+"-")
	})
}

func TestRelationshipStore_SharedAcrossHandles(t *testing.T) {
	ctx, fsClient := setupRelationshipsTest(t)
	prefix := "shared-" + uuid.NewString() + "-"

	// Arrange
	writer := fst.NewRelationshipStore(fsClient, prefix)
	require.NoError(t, writer.SetFlag(ctx, relationships.Connected, "org.example.a", true))

	// Act: a second handle over the same collections sees the committed write
	reader := fst.NewRelationshipStore(fsClient, prefix)
	connected, err := reader.GetFlag(ctx, relationships.Connected, "org.example.a")

	// Assert
	require.NoError(t, err)
	assert.True(t, connected)
}
