package rtcpterm

import "errors"

var (
	// ErrNilChannel is returned when a caller passes a nil channel where one
	// is required. This indicates a caller bug, not a transient condition,
	// and is never swallowed.
	ErrNilChannel = errors.New("rtcpterm: channel must not be nil")

	// ErrNoTransport is returned when a control packet send is attempted on
	// a channel with no bound transport. Callers treat it as a per-channel
	// outcome and continue with the rest of the cycle.
	ErrNoTransport = errors.New("rtcpterm: channel has no control transport")
)
