// Package retention implements the long-term data retention sweep:
// permanent deletion of closed accounting sessions older than a
// configured age. Open sessions are never deleted regardless of age, so
// in-progress connections cannot be lost to the sweep. Because the
// sweep only ever touches rows already in the terminal Closed state, it
// is safe to run concurrently with live accounting traffic.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codelaboratoryltd/aaad/pkg/accounting"
	"github.com/codelaboratoryltd/aaad/pkg/metrics"
	"github.com/codelaboratoryltd/aaad/pkg/store"
)

// ExportFunc receives the sessions about to be deleted, before deletion,
// inside the sweep transaction. Returning an error aborts the sweep:
// nothing is deleted if the export does not succeed.
type ExportFunc func(ctx context.Context, sessions []*accounting.Session) error

// Job deletes closed sessions past their retention age.
type Job struct {
	db      *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Export, if set, runs before each deletion batch. Optional.
	Export ExportFunc
}

// NewJob creates a retention job on the shared storage handle. metrics
// may be nil.
func NewJob(db *store.Store, m *metrics.Metrics, logger *zap.Logger) *Job {
	return &Job{db: db, logger: logger, metrics: m}
}

// Run deletes every closed session whose stop time is strictly older
// than now minus retentionDays. The whole sweep is one transaction:
// it either deletes everything eligible or nothing. Re-entrant and
// idempotent: a second run over the same data deletes zero rows.
func (j *Job) Run(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention: days must be >= 0, got %d", retentionDays)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	deleted := 0

	err := j.db.WithTx(ctx, func(conn *sqlite.Conn) error {
		if j.Export != nil {
			expired, err := j.collectExpired(conn, cutoff)
			if err != nil {
				return err
			}
			if len(expired) > 0 {
				if err := j.Export(ctx, expired); err != nil {
					return fmt.Errorf("retention: export: %w", err)
				}
			}
		}

		if err := sqlitex.Execute(conn, `
			DELETE FROM accounting_sessions
			WHERE stop_time IS NOT NULL AND stop_time < ?`,
			&sqlitex.ExecOptions{Args: []any{cutoff}}); err != nil {
			return store.MapError(err)
		}
		deleted = conn.Changes()
		return nil
	})

	if j.metrics != nil {
		j.metrics.RecordRetentionSweep(deleted, err)
	}
	if err != nil {
		return 0, err
	}

	j.logger.Info("Retention sweep complete",
		zap.Int("retention_days", retentionDays),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}

func (j *Job) collectExpired(conn *sqlite.Conn, cutoff int64) ([]*accounting.Session, error) {
	var expired []*accounting.Session
	err := sqlitex.Execute(conn, `
		SELECT session_id, unique_id, subscriber_id, nas_address, nas_port_id, port_type,
		       start_time, update_time, stop_time, session_seconds, input_octets,
		       output_octets, terminate_cause, auth_method, framed_protocol, framed_ip,
		       calling_station_id, called_station_id
		FROM accounting_sessions
		WHERE stop_time IS NOT NULL AND stop_time < ?`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stop := time.Unix(stmt.ColumnInt64(8), 0)
				expired = append(expired, &accounting.Session{
					SessionID:        stmt.ColumnText(0),
					UniqueID:         stmt.ColumnText(1),
					SubscriberID:     stmt.ColumnText(2),
					NASAddress:       stmt.ColumnText(3),
					NASPortID:        stmt.ColumnText(4),
					PortType:         stmt.ColumnText(5),
					StartTime:        time.Unix(stmt.ColumnInt64(6), 0),
					UpdateTime:       time.Unix(stmt.ColumnInt64(7), 0),
					StopTime:         &stop,
					SessionSeconds:   stmt.ColumnInt64(9),
					InputOctets:      stmt.ColumnInt64(10),
					OutputOctets:     stmt.ColumnInt64(11),
					TerminateCause:   stmt.ColumnText(12),
					AuthMethod:       stmt.ColumnText(13),
					FramedProtocol:   stmt.ColumnText(14),
					FramedIP:         stmt.ColumnText(15),
					CallingStationID: stmt.ColumnText(16),
					CalledStationID:  stmt.ColumnText(17),
				})
				return nil
			},
		})
	if err != nil {
		return nil, store.MapError(err)
	}
	return expired, nil
}
