package accounting

import (
	"context"

	"zombiezen.com/go/sqlite"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

// Query is the read-only aggregation surface consumed by dashboards.
// It never writes.
type Query struct {
	db *store.Store
}

// NewQuery creates the query facade on the shared storage handle.
func NewQuery(db *store.Store) *Query {
	return &Query{db: db}
}

// ActiveSessionCount returns the number of open sessions.
func (q *Query) ActiveSessionCount(ctx context.Context) (int, error) {
	var count int
	err := q.db.Query(ctx,
		`SELECT COUNT(*) FROM accounting_sessions WHERE stop_time IS NULL`,
		func(stmt *sqlite.Stmt) error {
			count = int(stmt.ColumnInt64(0))
			return nil
		})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ActiveSessionsFor returns the subscriber's open sessions, most
// recently started first.
func (q *Query) ActiveSessionsFor(ctx context.Context, subscriberID string) ([]*Session, error) {
	var sessions []*Session
	err := q.db.Query(ctx, selectSessions+`
		WHERE subscriber_id = ? AND stop_time IS NULL
		ORDER BY start_time DESC`,
		func(stmt *sqlite.Stmt) error {
			sessions = append(sessions, scanSession(stmt))
			return nil
		},
		subscriberID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Summary aggregates a subscriber's accounting history.
type Summary struct {
	SubscriberID   string
	SessionCount   int
	ActiveCount    int
	SessionSeconds int64
	InputOctets    int64
	OutputOctets   int64
}

// SummaryFor returns usage totals across all of a subscriber's sessions,
// open and closed.
func (q *Query) SummaryFor(ctx context.Context, subscriberID string) (*Summary, error) {
	summary := &Summary{SubscriberID: subscriberID}
	err := q.db.Query(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN stop_time IS NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(session_seconds), 0),
		       COALESCE(SUM(input_octets), 0),
		       COALESCE(SUM(output_octets), 0)
		FROM accounting_sessions
		WHERE subscriber_id = ?`,
		func(stmt *sqlite.Stmt) error {
			summary.SessionCount = int(stmt.ColumnInt64(0))
			summary.ActiveCount = int(stmt.ColumnInt64(1))
			summary.SessionSeconds = stmt.ColumnInt64(2)
			summary.InputOctets = stmt.ColumnInt64(3)
			summary.OutputOctets = stmt.ColumnInt64(4)
			return nil
		},
		subscriberID)
	if err != nil {
		return nil, err
	}
	return summary, nil
}
