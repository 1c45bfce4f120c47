package conference

import (
	"github.com/pion/webrtc/v4"
)

// DataChannelTransport adapts a pion data channel to the MessageTransport
// interface. It reports ready only while the underlying channel is open, so
// sends attempted before the channel finished establishing are skipped by
// the caller rather than queued.
type DataChannelTransport struct {
	dc *webrtc.DataChannel
}

// NewDataChannelTransport wraps a data channel. A nil data channel is a
// caller bug and fails loudly.
func NewDataChannelTransport(dc *webrtc.DataChannel) (*DataChannelTransport, error) {
	if dc == nil {
		return nil, ErrNilDataChannel
	}
	return &DataChannelTransport{dc: dc}, nil
}

// IsReady reports whether the data channel is open.
func (t *DataChannelTransport) IsReady() bool {
	return t.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// SendText delivers a text message over the data channel.
func (t *DataChannelTransport) SendText(msg string) error {
	return t.dc.SendText(msg)
}
