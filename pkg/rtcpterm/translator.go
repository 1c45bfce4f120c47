package rtcpterm

import (
	"github.com/pion/rtcp"

	"github.com/thesyncim/confbridge/pkg/conference"
)

// Translator is the packet-relay transport the synthesizer is bound to. The
// bridge's local SSRC is the one announced through signaling, so endpoints
// accept the synthesized packets as coming from a known source.
type Translator interface {
	LocalSSRC() uint32
}

// ControlWriter is the recognized kind of Translator: one that can address a
// compound control packet to a specific channel's transport rather than
// broadcasting it. A synthesizer bound to a Translator that is not a
// ControlWriter treats every cycle as a no-op.
type ControlWriter interface {
	Translator

	// WriteControl sends a compound packet on the given channel's own
	// transport.
	WriteControl(pkts []rtcp.Packet, ch *conference.Channel) error
}

// LocalTranslator is a ControlWriter that relays compound packets on each
// channel's own bound RTCP transport.
type LocalTranslator struct {
	localSSRC uint32
}

// NewLocalTranslator creates a translator reporting as localSSRC.
func NewLocalTranslator(localSSRC uint32) *LocalTranslator {
	return &LocalTranslator{localSSRC: localSSRC}
}

// LocalSSRC returns the bridge's reporting SSRC.
func (t *LocalTranslator) LocalSSRC() uint32 {
	return t.localSSRC
}

// WriteControl sends pkts on the channel's own transport. A nil channel is a
// caller bug; a channel with no bound transport yields ErrNoTransport, which
// callers treat as a per-channel outcome.
func (t *LocalTranslator) WriteControl(pkts []rtcp.Packet, ch *conference.Channel) error {
	if ch == nil {
		return ErrNilChannel
	}
	w := ch.RTCPWriter()
	if w == nil {
		return ErrNoTransport
	}
	return w.WriteRTCP(pkts)
}
