package policy

import (
	"context"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

// GroupStore provides access to policy groups and memberships.
type GroupStore struct {
	db     *store.Store
	reply  *ReplyStore
	logger *zap.Logger
}

// NewGroupStore creates a group store. The reply store is used when
// resolving a subscriber's effective attributes, where subscriber-level
// attributes take precedence over group-level ones.
func NewGroupStore(db *store.Store, reply *ReplyStore, logger *zap.Logger) *GroupStore {
	return &GroupStore{db: db, reply: reply, logger: logger}
}

// SetAttribute writes a group attribute with the same delete-then-insert
// replace rule as subscriber reply attributes, scoped to the group.
func (s *GroupStore) SetAttribute(ctx context.Context, group, attribute, value, op string) error {
	if op == "" {
		op = DefaultOp
	}
	err := s.db.WithTx(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`DELETE FROM group_attributes WHERE group_name = ? AND attribute = ?`,
			&sqlitex.ExecOptions{Args: []any{group, attribute}}); err != nil {
			return store.MapError(err)
		}
		if err := sqlitex.Execute(conn,
			`INSERT INTO group_attributes (group_name, attribute, op, value)
			 VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{group, attribute, op, value}}); err != nil {
			return store.MapError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Group attribute set",
		zap.String("group", group),
		zap.String("attribute", attribute),
	)
	return nil
}

// ListAttributes returns the group's attributes.
func (s *GroupStore) ListAttributes(ctx context.Context, group string) ([]Attribute, error) {
	var attrs []Attribute
	err := s.db.Query(ctx, `
		SELECT group_name, attribute, op, value
		FROM group_attributes
		WHERE group_name = ?
		ORDER BY attribute`,
		func(stmt *sqlite.Stmt) error {
			attrs = append(attrs, Attribute{
				Owner:     stmt.ColumnText(0),
				Attribute: stmt.ColumnText(1),
				Op:        stmt.ColumnText(2),
				Value:     stmt.ColumnText(3),
			})
			return nil
		},
		group)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// AddMembership adds the subscriber to a group. The UNIQUE constraint on
// (subscriber_id, group_name) rejects duplicates atomically; a caller
// that wants a different priority must remove the membership first.
func (s *GroupStore) AddMembership(ctx context.Context, subscriberID, group string, priority int) error {
	if priority <= 0 {
		priority = 1
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO group_memberships (subscriber_id, group_name, priority)
		VALUES (?, ?, ?)`,
		subscriberID, group, priority)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrDuplicateMembership
		}
		return err
	}

	s.logger.Debug("Membership added",
		zap.String("subscriber_id", subscriberID),
		zap.String("group", group),
		zap.Int("priority", priority),
	)
	return nil
}

// RemoveMembership removes the subscriber from a group. Removing a
// membership that does not exist is a no-op.
func (s *GroupStore) RemoveMembership(ctx context.Context, subscriberID, group string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM group_memberships WHERE subscriber_id = ? AND group_name = ?`,
		subscriberID, group)
	return err
}

// ListMemberships returns the subscriber's memberships ordered by
// ascending priority.
func (s *GroupStore) ListMemberships(ctx context.Context, subscriberID string) ([]Membership, error) {
	var members []Membership
	err := s.db.Query(ctx, `
		SELECT subscriber_id, group_name, priority
		FROM group_memberships
		WHERE subscriber_id = ?
		ORDER BY priority, group_name`,
		func(stmt *sqlite.Stmt) error {
			members = append(members, Membership{
				SubscriberID: stmt.ColumnText(0),
				Group:        stmt.ColumnText(1),
				Priority:     int(stmt.ColumnInt64(2)),
			})
			return nil
		},
		subscriberID)
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ResolveEffectiveAttributes merges the subscriber's own reply
// attributes with the attributes of every group the subscriber belongs
// to. Subscriber-level attributes always win; across groups, lower
// membership priority wins (most specific policy first). The first
// writer of an attribute name keeps it.
func (s *GroupStore) ResolveEffectiveAttributes(ctx context.Context, subscriberID string) ([]Attribute, error) {
	own, err := s.reply.ListFor(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	effective := make([]Attribute, 0, len(own))
	seen := make(map[string]bool, len(own))
	for _, attr := range own {
		effective = append(effective, attr)
		seen[attr.Attribute] = true
	}

	memberships, err := s.ListMemberships(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	for _, m := range memberships {
		attrs, err := s.ListAttributes(ctx, m.Group)
		if err != nil {
			return nil, err
		}
		for _, attr := range attrs {
			if seen[attr.Attribute] {
				continue
			}
			effective = append(effective, attr)
			seen[attr.Attribute] = true
		}
	}

	return effective, nil
}
