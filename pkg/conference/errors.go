package conference

import "errors"

var (
	// ErrNilEndpoint is returned when a caller passes a nil endpoint where
	// one is required. This is a contract violation, not a transient state.
	ErrNilEndpoint = errors.New("conference: endpoint must not be nil")

	// ErrNilDataChannel is returned when a data channel transport is
	// constructed from a nil data channel.
	ErrNilDataChannel = errors.New("conference: data channel must not be nil")
)
