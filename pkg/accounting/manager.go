// Package accounting is the session accounting core: the state machine
// tracking subscriber connections from start through interim updates to
// stop, and the read-only query surface over the same state.
//
// A session is Open until its stop time is set, then Closed. Closed is
// terminal: the only thing that ever happens to a closed session is
// deletion by the retention sweep. Start, interim update and stop have
// deliberately distinct failure semantics; silently tolerating
// out-of-order or duplicate device reports would corrupt
// billing-relevant usage counters.
package accounting

import (
	"context"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codelaboratoryltd/aaad/pkg/metrics"
	"github.com/codelaboratoryltd/aaad/pkg/store"
)

// Manager owns all write access to the accounting_sessions table.
type Manager struct {
	db      *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a session manager on the shared storage handle.
// metrics may be nil.
func NewManager(db *store.Store, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{db: db, logger: logger, metrics: m}
}

// Start creates an open session from a decoded start event. The UNIQUE
// constraint on unique_id rejects replayed start events atomically
// without touching existing state. Counters begin at zero and the start
// time is set exactly once, here.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	now := time.Now().Unix()
	_, err := m.db.Exec(ctx, `
		INSERT INTO accounting_sessions
			(session_id, unique_id, subscriber_id, nas_address, nas_port_id, port_type,
			 start_time, update_time, auth_method, framed_protocol, framed_ip,
			 calling_station_id, called_station_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.SessionID, req.UniqueID, req.SubscriberID, req.NASAddress,
		req.NASPortID, req.PortType, now, now, req.AuthMethod,
		req.FramedProtocol, req.FramedIP, req.CallingStationID, req.CalledStationID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			m.record("start", "duplicate_unique_id")
			return ErrDuplicateUniqueID
		}
		m.record("start", "error")
		return err
	}

	m.record("start", "ok")
	m.logger.Info("Session started",
		zap.String("session_id", req.SessionID),
		zap.String("unique_id", req.UniqueID),
		zap.String("subscriber_id", req.SubscriberID),
		zap.String("nas_address", req.NASAddress),
	)
	return nil
}

// InterimUpdate overwrites the counters of the matching open session.
// Matching is by (session_id, subscriber_id); there is no upsert, so an
// update with no matching open session is rejected with
// ErrSessionNotFound. Last writer wins by arrival order; the transport
// preserves per-session ordering, since device accounting streams are
// ordered per NAS port.
func (m *Manager) InterimUpdate(ctx context.Context, req UpdateRequest) error {
	changed, err := m.db.Exec(ctx, `
		UPDATE accounting_sessions
		SET session_seconds = ?, input_octets = ?, output_octets = ?, update_time = ?
		WHERE session_id = ? AND subscriber_id = ? AND stop_time IS NULL`,
		req.SessionSeconds, req.InputOctets, req.OutputOctets, time.Now().Unix(),
		req.SessionID, req.SubscriberID)
	if err != nil {
		m.record("interim", "error")
		return err
	}
	if changed == 0 {
		m.record("interim", "session_not_found")
		return ErrSessionNotFound
	}

	m.record("interim", "ok")
	m.logger.Debug("Session updated",
		zap.String("session_id", req.SessionID),
		zap.String("subscriber_id", req.SubscriberID),
		zap.Int64("session_seconds", req.SessionSeconds),
	)
	return nil
}

// Stop closes the matching open session, finalizing counters and the
// terminate cause. The predicate update (stop_time IS NULL) is the
// atomic transition: once it has run, the session is closed and no
// later event mutates it. A stop whose key matches only a closed
// session returns ErrAlreadyClosed without changing anything, which
// absorbs retransmitted stop events; a stop matching nothing at all
// returns ErrSessionNotFound.
func (m *Manager) Stop(ctx context.Context, req StopRequest) error {
	var startTime, stopTime int64
	err := m.db.WithTx(ctx, func(conn *sqlite.Conn) error {
		now := time.Now().Unix()
		if err := sqlitex.Execute(conn, `
			UPDATE accounting_sessions
			SET stop_time = ?, update_time = ?, session_seconds = ?,
			    input_octets = ?, output_octets = ?, terminate_cause = ?
			WHERE session_id = ? AND subscriber_id = ? AND stop_time IS NULL`,
			&sqlitex.ExecOptions{Args: []any{
				now, now, req.SessionSeconds, req.InputOctets, req.OutputOctets,
				req.TerminateCause, req.SessionID, req.SubscriberID,
			}}); err != nil {
			return store.MapError(err)
		}
		if conn.Changes() > 0 {
			stopTime = now
			return sqlitex.Execute(conn, `
				SELECT start_time FROM accounting_sessions
				WHERE session_id = ? AND subscriber_id = ? AND stop_time = ?`,
				&sqlitex.ExecOptions{
					Args: []any{req.SessionID, req.SubscriberID, now},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						startTime = stmt.ColumnInt64(0)
						return nil
					},
				})
		}

		// Nothing transitioned: distinguish a replayed stop from a
		// stop for a session that never existed.
		closed := false
		if err := sqlitex.Execute(conn, `
			SELECT 1 FROM accounting_sessions
			WHERE session_id = ? AND subscriber_id = ? AND stop_time IS NOT NULL
			LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{req.SessionID, req.SubscriberID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					closed = true
					return nil
				},
			}); err != nil {
			return store.MapError(err)
		}
		if closed {
			return ErrAlreadyClosed
		}
		return ErrSessionNotFound
	})
	if err != nil {
		switch err {
		case ErrAlreadyClosed:
			m.record("stop", "already_closed")
		case ErrSessionNotFound:
			m.record("stop", "session_not_found")
		default:
			m.record("stop", "error")
		}
		return err
	}

	m.record("stop", "ok")
	if m.metrics != nil {
		m.metrics.RecordSessionClosed(float64(stopTime - startTime))
	}
	m.logger.Info("Session stopped",
		zap.String("session_id", req.SessionID),
		zap.String("subscriber_id", req.SubscriberID),
		zap.Int64("session_seconds", req.SessionSeconds),
		zap.String("terminate_cause", req.TerminateCause),
	)
	return nil
}

// ListActive returns all open sessions, most recently started first.
// The listing is a plain re-query; calling it again restarts.
func (m *Manager) ListActive(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	err := m.db.Query(ctx, selectSessions+`
		WHERE stop_time IS NULL
		ORDER BY start_time DESC`,
		func(stmt *sqlite.Stmt) error {
			sessions = append(sessions, scanSession(stmt))
			return nil
		})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (m *Manager) record(event, result string) {
	if m.metrics != nil {
		m.metrics.RecordAccountingEvent(event, result)
	}
}

const selectSessions = `
	SELECT session_id, unique_id, subscriber_id, nas_address, nas_port_id, port_type,
	       start_time, update_time, stop_time, session_seconds, input_octets,
	       output_octets, terminate_cause, auth_method, framed_protocol, framed_ip,
	       calling_station_id, called_station_id
	FROM accounting_sessions`

func scanSession(stmt *sqlite.Stmt) *Session {
	s := &Session{
		SessionID:        stmt.ColumnText(0),
		UniqueID:         stmt.ColumnText(1),
		SubscriberID:     stmt.ColumnText(2),
		NASAddress:       stmt.ColumnText(3),
		NASPortID:        stmt.ColumnText(4),
		PortType:         stmt.ColumnText(5),
		StartTime:        time.Unix(stmt.ColumnInt64(6), 0),
		UpdateTime:       time.Unix(stmt.ColumnInt64(7), 0),
		SessionSeconds:   stmt.ColumnInt64(9),
		InputOctets:      stmt.ColumnInt64(10),
		OutputOctets:     stmt.ColumnInt64(11),
		TerminateCause:   stmt.ColumnText(12),
		AuthMethod:       stmt.ColumnText(13),
		FramedProtocol:   stmt.ColumnText(14),
		FramedIP:         stmt.ColumnText(15),
		CallingStationID: stmt.ColumnText(16),
		CalledStationID:  stmt.ColumnText(17),
	}
	if !stmt.ColumnIsNull(8) {
		t := time.Unix(stmt.ColumnInt64(8), 0)
		s.StopTime = &t
	}
	return s
}
