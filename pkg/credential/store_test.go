package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

func newTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "aaad.db")
	cfg.PoolSize = 2
	db, err := store.Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logger), db
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsert_InsertThenGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", "hunter2"))

	cred, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.SubscriberID)
	assert.Equal(t, DefaultAttribute, cred.Attribute)
	assert.Equal(t, DefaultOp, cred.Op)
	assert.Equal(t, "hunter2", cred.Value)
	assert.False(t, cred.CreatedAt.IsZero())
}

func TestUpsert_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Calling twice with the same secret leaves exactly one row with
	// that value.
	require.NoError(t, s.Upsert(ctx, "alice", "hunter2"))
	require.NoError(t, s.Upsert(ctx, "alice", "hunter2"))

	creds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "hunter2", creds[0].Value)
}

func TestUpsert_ReplacesValue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", "old"))
	require.NoError(t, s.Upsert(ctx, "alice", "new"))

	cred, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Value)

	creds, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, creds, 1)
}

func TestDelete_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Delete(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_CascadesToPolicyRows(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", "hunter2"))
	_, err := db.Exec(ctx, `
		INSERT INTO reply_attributes (subscriber_id, attribute, op, value)
		VALUES ('alice', 'Framed-IP-Address', '=', '192.0.2.10')`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `
		INSERT INTO group_memberships (subscriber_id, group_name, priority)
		VALUES ('alice', 'residential', 1)`)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "alice"))

	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countRows(t, db, "reply_attributes"))
	assert.Zero(t, countRows(t, db, "group_memberships"))
}

func TestDelete_LeavesOtherSubscribers(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", "a"))
	require.NoError(t, s.Upsert(ctx, "bob", "b"))
	_, err := db.Exec(ctx, `
		INSERT INTO reply_attributes (subscriber_id, attribute, op, value)
		VALUES ('bob', 'Session-Timeout', '=', '3600')`)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "alice"))

	_, err = s.Get(ctx, "bob")
	assert.NoError(t, err)
	assert.Equal(t, 1, countRows(t, db, "reply_attributes"))
}

func TestList_OrderedBySubscriber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, sub := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.Upsert(ctx, sub, "pw"))
	}

	creds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Equal(t, "alice", creds[0].SubscriberID)
	assert.Equal(t, "bob", creds[1].SubscriberID)
	assert.Equal(t, "carol", creds[2].SubscriberID)
}

func countRows(t *testing.T, db *store.Store, table string) int {
	t.Helper()
	count := -1
	err := db.Query(context.Background(), "SELECT COUNT(*) FROM "+table,
		func(stmt *sqlite.Stmt) error {
			count = int(stmt.ColumnInt64(0))
			return nil
		})
	require.NoError(t, err)
	return count
}
