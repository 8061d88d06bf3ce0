// Package credential owns the per-subscriber authentication check
// attributes. One active credential per (subscriber, attribute) pair;
// upsert replaces, never duplicates.
package credential

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

var (
	// ErrNotFound is returned when no credential exists for a subscriber.
	ErrNotFound = errors.New("credential not found")
)

const (
	// DefaultAttribute is the check attribute name used for password
	// credentials.
	DefaultAttribute = "Cleartext-Password"

	// DefaultOp is the comparison operator for freshly inserted
	// credentials.
	DefaultOp = ":="
)

// Credential is a subscriber authentication check attribute.
type Credential struct {
	SubscriberID string
	Attribute    string
	Op           string
	Value        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store provides access to the credentials table.
type Store struct {
	db     *store.Store
	logger *zap.Logger
}

// NewStore creates a credential store on the shared storage handle.
func NewStore(db *store.Store, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Get returns the active password credential for a subscriber.
func (s *Store) Get(ctx context.Context, subscriberID string) (*Credential, error) {
	var cred *Credential
	err := s.db.Query(ctx, `
		SELECT subscriber_id, attribute, op, value, created_at, updated_at
		FROM credentials
		WHERE subscriber_id = ? AND attribute = ?`,
		func(stmt *sqlite.Stmt) error {
			cred = &Credential{
				SubscriberID: stmt.ColumnText(0),
				Attribute:    stmt.ColumnText(1),
				Op:           stmt.ColumnText(2),
				Value:        stmt.ColumnText(3),
				CreatedAt:    time.Unix(stmt.ColumnInt64(4), 0),
				UpdatedAt:    time.Unix(stmt.ColumnInt64(5), 0),
			}
			return nil
		},
		subscriberID, DefaultAttribute)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNotFound
	}
	return cred, nil
}

// Upsert inserts a password credential for the subscriber, or replaces
// the value of the existing one. The updated_at timestamp is bumped
// either way, so repeated calls with the same secret are observable but
// leave exactly one row. The replace happens inside a single statement;
// the UNIQUE(subscriber_id, attribute) constraint makes it atomic under
// concurrent writers.
func (s *Store) Upsert(ctx context.Context, subscriberID, secret string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(ctx, `
		INSERT INTO credentials (subscriber_id, attribute, op, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscriber_id, attribute)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		subscriberID, DefaultAttribute, DefaultOp, secret, now, now)
	if err != nil {
		return err
	}

	s.logger.Debug("Credential upserted", zap.String("subscriber_id", subscriberID))
	return nil
}

// Delete removes the subscriber's credentials and cascades to the
// subscriber's reply attributes and group memberships. The cascade is
// explicit rather than foreign-key-implicit so no policy rows are left
// referencing an identity the core no longer knows. Runs in one
// transaction; returns ErrNotFound (nothing deleted) if the subscriber
// had no credential.
func (s *Store) Delete(ctx context.Context, subscriberID string) error {
	err := s.db.WithTx(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`DELETE FROM credentials WHERE subscriber_id = ?`,
			&sqlitex.ExecOptions{Args: []any{subscriberID}}); err != nil {
			return store.MapError(err)
		}
		if conn.Changes() == 0 {
			return ErrNotFound
		}
		if err := sqlitex.Execute(conn,
			`DELETE FROM reply_attributes WHERE subscriber_id = ?`,
			&sqlitex.ExecOptions{Args: []any{subscriberID}}); err != nil {
			return store.MapError(err)
		}
		if err := sqlitex.Execute(conn,
			`DELETE FROM group_memberships WHERE subscriber_id = ?`,
			&sqlitex.ExecOptions{Args: []any{subscriberID}}); err != nil {
			return store.MapError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Subscriber deleted", zap.String("subscriber_id", subscriberID))
	return nil
}

// List returns all credentials ordered by subscriber identifier. The
// listing is a plain re-query; calling it again restarts from scratch.
func (s *Store) List(ctx context.Context) ([]*Credential, error) {
	var creds []*Credential
	err := s.db.Query(ctx, `
		SELECT subscriber_id, attribute, op, value, created_at, updated_at
		FROM credentials
		ORDER BY subscriber_id`,
		func(stmt *sqlite.Stmt) error {
			creds = append(creds, &Credential{
				SubscriberID: stmt.ColumnText(0),
				Attribute:    stmt.ColumnText(1),
				Op:           stmt.ColumnText(2),
				Value:        stmt.ColumnText(3),
				CreatedAt:    time.Unix(stmt.ColumnInt64(4), 0),
				UpdatedAt:    time.Unix(stmt.ColumnInt64(5), 0),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return creds, nil
}
