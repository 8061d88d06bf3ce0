package policy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

func newTestStores(t *testing.T) (*ReplyStore, *GroupStore) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "aaad.db")
	cfg.PoolSize = 2
	db, err := store.Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reply := NewReplyStore(db, logger)
	return reply, NewGroupStore(db, reply, logger)
}

func TestReplySet_ReplaceKeepsOneRow(t *testing.T) {
	reply, _ := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, reply.Set(ctx, "alice", "Session-Timeout", "3600", ""))
	require.NoError(t, reply.Set(ctx, "alice", "Session-Timeout", "7200", ""))

	attrs, err := reply.ListFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "7200", attrs[0].Value)
	assert.Equal(t, DefaultOp, attrs[0].Op)
}

func TestReplyListFor_OrderedByAttribute(t *testing.T) {
	reply, _ := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, reply.Set(ctx, "alice", "Session-Timeout", "3600", ""))
	require.NoError(t, reply.Set(ctx, "alice", "Framed-IP-Address", "192.0.2.10", ""))
	require.NoError(t, reply.Set(ctx, "bob", "Session-Timeout", "60", ""))

	attrs, err := reply.ListFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "Framed-IP-Address", attrs[0].Attribute)
	assert.Equal(t, "Session-Timeout", attrs[1].Attribute)
}

func TestGroupSetAttribute_Replace(t *testing.T) {
	_, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, groups.SetAttribute(ctx, "residential", "Filter-Id", "basic", ""))
	require.NoError(t, groups.SetAttribute(ctx, "residential", "Filter-Id", "premium", ""))

	attrs, err := groups.ListAttributes(ctx, "residential")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "premium", attrs[0].Value)
}

func TestAddMembership_DuplicateRejected(t *testing.T) {
	_, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, groups.AddMembership(ctx, "alice", "residential", 1))
	err := groups.AddMembership(ctx, "alice", "residential", 5)
	assert.ErrorIs(t, err, ErrDuplicateMembership)

	// The original priority survives the rejected insert.
	members, err := groups.ListMemberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, 1, members[0].Priority)
}

func TestAddMembership_DefaultsPriority(t *testing.T) {
	_, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, groups.AddMembership(ctx, "alice", "residential", 0))

	members, err := groups.ListMemberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, 1, members[0].Priority)
}

func TestRemoveMembership_AbsentIsNoop(t *testing.T) {
	_, groups := newTestStores(t)

	assert.NoError(t, groups.RemoveMembership(context.Background(), "alice", "nogroup"))
}

func TestListMemberships_PriorityOrder(t *testing.T) {
	_, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, groups.AddMembership(ctx, "alice", "gaming", 3))
	require.NoError(t, groups.AddMembership(ctx, "alice", "residential", 1))
	require.NoError(t, groups.AddMembership(ctx, "alice", "voip", 2))

	members, err := groups.ListMemberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "residential", members[0].Group)
	assert.Equal(t, "voip", members[1].Group)
	assert.Equal(t, "gaming", members[2].Group)
}

func TestResolveEffectiveAttributes_SubscriberWins(t *testing.T) {
	reply, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, groups.SetAttribute(ctx, "residential", "Session-Timeout", "3600", ""))
	require.NoError(t, groups.SetAttribute(ctx, "residential", "Filter-Id", "basic", ""))
	require.NoError(t, groups.AddMembership(ctx, "alice", "residential", 1))
	require.NoError(t, reply.Set(ctx, "alice", "Session-Timeout", "60", ""))

	attrs, err := groups.ResolveEffectiveAttributes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, attrs, 2)

	byName := make(map[string]Attribute, len(attrs))
	for _, a := range attrs {
		byName[a.Attribute] = a
	}
	assert.Equal(t, "60", byName["Session-Timeout"].Value)
	assert.Equal(t, "alice", byName["Session-Timeout"].Owner)
	assert.Equal(t, "basic", byName["Filter-Id"].Value)
	assert.Equal(t, "residential", byName["Filter-Id"].Owner)
}

func TestResolveEffectiveAttributes_LowerPriorityGroupWins(t *testing.T) {
	_, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, groups.SetAttribute(ctx, "premium", "Filter-Id", "premium", ""))
	require.NoError(t, groups.SetAttribute(ctx, "residential", "Filter-Id", "basic", ""))
	require.NoError(t, groups.AddMembership(ctx, "alice", "residential", 2))
	require.NoError(t, groups.AddMembership(ctx, "alice", "premium", 1))

	attrs, err := groups.ResolveEffectiveAttributes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "premium", attrs[0].Value)
}

func TestResolveEffectiveAttributes_NoMemberships(t *testing.T) {
	reply, groups := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, reply.Set(ctx, "alice", "Session-Timeout", "60", ""))

	attrs, err := groups.ResolveEffectiveAttributes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	attrs, err = groups.ResolveEffectiveAttributes(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, attrs)
}
