// Package policy owns the authorization attribute tables: per-subscriber
// reply attributes, named policy groups with their own attributes, and
// the subscriber-to-group membership mapping with priorities.
package policy

import (
	"context"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

// ReplyStore provides access to per-subscriber reply attributes.
type ReplyStore struct {
	db     *store.Store
	logger *zap.Logger
}

// NewReplyStore creates a reply attribute store on the shared handle.
func NewReplyStore(db *store.Store, logger *zap.Logger) *ReplyStore {
	return &ReplyStore{db: db, logger: logger}
}

// Set writes a reply attribute for the subscriber with delete-then-insert
// semantics: after the call there is exactly one row for the
// (subscriber, attribute) pair regardless of prior state. The old row's
// identity is lost on replace. Both statements run in one transaction.
func (s *ReplyStore) Set(ctx context.Context, subscriberID, attribute, value, op string) error {
	if op == "" {
		op = DefaultOp
	}
	err := s.db.WithTx(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`DELETE FROM reply_attributes WHERE subscriber_id = ? AND attribute = ?`,
			&sqlitex.ExecOptions{Args: []any{subscriberID, attribute}}); err != nil {
			return store.MapError(err)
		}
		if err := sqlitex.Execute(conn,
			`INSERT INTO reply_attributes (subscriber_id, attribute, op, value)
			 VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{subscriberID, attribute, op, value}}); err != nil {
			return store.MapError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Reply attribute set",
		zap.String("subscriber_id", subscriberID),
		zap.String("attribute", attribute),
	)
	return nil
}

// ListFor returns the subscriber's reply attributes.
func (s *ReplyStore) ListFor(ctx context.Context, subscriberID string) ([]Attribute, error) {
	var attrs []Attribute
	err := s.db.Query(ctx, `
		SELECT subscriber_id, attribute, op, value
		FROM reply_attributes
		WHERE subscriber_id = ?
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
		subscriberID)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}
