package policy

import "errors"

var (
	// ErrDuplicateMembership is returned when a (subscriber, group)
	// membership already exists. Callers must remove it before re-adding
	// with a different priority.
	ErrDuplicateMembership = errors.New("membership already exists")
)

// DefaultOp is the operator for reply and group attributes.
const DefaultOp = "="

// Attribute is a reply attribute, either subscriber- or group-scoped.
type Attribute struct {
	Owner     string // subscriber ID or group name
	Attribute string
	Op        string
	Value     string
}

// Membership maps a subscriber to a policy group. Lower priority
// numbers win when attributes conflict across groups.
type Membership struct {
	SubscriberID string
	Group        string
	Priority     int
}
