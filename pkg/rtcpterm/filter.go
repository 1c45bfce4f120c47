// Package rtcpterm terminates and re-synthesizes RTCP on behalf of a
// conference bridge: inbound control packets from peers are filtered before
// forwarding, and destination-specific compound reports are synthesized from
// per-SSRC receive statistics and bandwidth estimates.
package rtcpterm

import (
	"github.com/pion/rtcp"
)

// Filter is the stateless per-packet transform applied to inbound compound
// control packets before any forwarding. The bridge is the sole synthesizer
// of receiver reports and bandwidth estimates sent to peers, so both are
// muted here unconditionally and rebuilt per destination by the Synthesizer.
//
// Policy per sub-packet:
//   - receiver reports are dropped
//   - sender reports are forwarded with their report-block list emptied,
//     keeping the sender timing fields
//   - REMB (receiver estimated maximum bitrate) feedback is dropped
//   - everything else, including picture-loss and NACK feedback, passes
//     through unchanged
type Filter struct{}

// Apply transforms one inbound compound packet. The relative order of the
// surviving sub-packets is preserved. Apply never mutates its input: a
// rewritten sender report is a fresh allocation. It returns nil when every
// sub-packet was dropped; an empty compound packet is never emitted.
func (Filter) Apply(in []rtcp.Packet) []rtcp.Packet {
	if len(in) == 0 {
		return nil
	}

	out := make([]rtcp.Packet, 0, len(in))
	for _, p := range in {
		switch pkt := p.(type) {
		case *rtcp.ReceiverReport:
			// Mute RRs from the peers. We send our own.

		case *rtcp.SenderReport:
			sr := *pkt
			sr.Reports = []rtcp.ReceptionReport{}
			out = append(out, &sr)

		case *rtcp.ReceiverEstimatedMaximumBitrate:
			// Mute REMBs.

		default:
			// Pass through everything else, like PLIs and NACKs.
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
