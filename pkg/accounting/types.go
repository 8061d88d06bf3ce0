package accounting

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateUniqueID is returned when a start event replays a
	// unique session key that already exists. Existing state is never
	// mutated.
	ErrDuplicateUniqueID = errors.New("unique session ID already exists")

	// ErrSessionNotFound is returned when an interim update or stop has
	// no matching open session. Updates for unknown sessions are
	// rejected rather than upserted so malformed or delayed device
	// reports cannot fabricate session history.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyClosed is returned when a stop event targets a session
	// that is already closed. A soft outcome: the retransmitted stop is
	// acknowledged and no data changes.
	ErrAlreadyClosed = errors.New("session already closed")
)

// Session is one subscriber connection tracked from start to stop.
// A session is open while StopTime is nil and closed once it is set;
// closed sessions are immutable until the retention sweep deletes them.
type Session struct {
	SessionID        string // device-local session identifier
	UniqueID         string // globally unique key, idempotency anchor
	SubscriberID     string
	NASAddress       string
	NASPortID        string
	PortType         string
	StartTime        time.Time
	UpdateTime       time.Time
	StopTime         *time.Time
	SessionSeconds   int64
	InputOctets      int64
	OutputOctets     int64
	TerminateCause   string
	AuthMethod       string
	FramedProtocol   string
	FramedIP         string
	CallingStationID string
	CalledStationID  string
}

// Closed reports whether the session has reached its terminal state.
func (s *Session) Closed() bool {
	return s.StopTime != nil
}

// StartRequest is a decoded Accounting-Start event.
type StartRequest struct {
	SessionID        string
	UniqueID         string
	SubscriberID     string
	NASAddress       string
	NASPortID        string
	PortType         string
	AuthMethod       string
	FramedProtocol   string
	FramedIP         string
	CallingStationID string
	CalledStationID  string
}

// UpdateRequest is a decoded Interim-Update event. Counters are
// cumulative as reported by the device.
type UpdateRequest struct {
	SessionID      string
	SubscriberID   string
	SessionSeconds int64
	InputOctets    int64
	OutputOctets   int64
}

// StopRequest is a decoded Accounting-Stop event with final counters.
type StopRequest struct {
	SessionID      string
	SubscriberID   string
	SessionSeconds int64
	InputOctets    int64
	OutputOctets   int64
	TerminateCause string
}
