package accounting

import (
	"strconv"

	"layeh.com/radius/rfc2866"
)

// CauseName returns the canonical dictionary name for a numeric
// Acct-Terminate-Cause value ("User-Request", "Lost-Carrier", ...).
// Transports that deliver the cause as a raw code use this to fill
// StopRequest.TerminateCause; unknown codes fall back to the decimal
// string so nothing is dropped.
func CauseName(code uint32) string {
	cause := rfc2866.AcctTerminateCause(code)
	switch cause {
	case rfc2866.AcctTerminateCause_Value_UserRequest,
		rfc2866.AcctTerminateCause_Value_LostCarrier,
		rfc2866.AcctTerminateCause_Value_LostService,
		rfc2866.AcctTerminateCause_Value_IdleTimeout,
		rfc2866.AcctTerminateCause_Value_SessionTimeout,
		rfc2866.AcctTerminateCause_Value_AdminReset,
		rfc2866.AcctTerminateCause_Value_AdminReboot,
		rfc2866.AcctTerminateCause_Value_PortError,
		rfc2866.AcctTerminateCause_Value_NASError,
		rfc2866.AcctTerminateCause_Value_NASRequest,
		rfc2866.AcctTerminateCause_Value_NASReboot,
		rfc2866.AcctTerminateCause_Value_PortUnneeded,
		rfc2866.AcctTerminateCause_Value_PortPreempted,
		rfc2866.AcctTerminateCause_Value_PortSuspended,
		rfc2866.AcctTerminateCause_Value_ServiceUnavailable,
		rfc2866.AcctTerminateCause_Value_Callback,
		rfc2866.AcctTerminateCause_Value_UserError,
		rfc2866.AcctTerminateCause_Value_HostRequest:
		return cause.String()
	}
	return strconv.FormatUint(uint64(code), 10)
}
