package rtcpterm

import (
	"time"

	"github.com/pion/rtcp"
)

// SSRCCache resolves per-SSRC cached receive statistics and CNAMEs. It is
// populated by the media-statistics subsystem and is read-only to the
// termination core. A missing entry is an expected outcome (the stream may
// not have produced statistics yet), never an error.
type SSRCCache interface {
	// Lookup returns a point-in-time copy of the entry for ssrc, or false
	// when the cache holds no statistics for it.
	Lookup(ssrc uint32) (SSRCEntry, bool)
}

// SSRCEntry is the cached receive state of one SSRC: resolved CNAME plus the
// fields a receiver report block is materialized from.
type SSRCEntry struct {
	// SSRC identifies the stream.
	SSRC uint32

	// CNAME is the stream's canonical name, empty if not yet resolved.
	CNAME string

	// PacketsReceived counts RTP packets received on the stream.
	PacketsReceived uint64

	// FractionLost is the loss fraction (out of 256) over the interval
	// ending when this entry was cut.
	FractionLost uint8

	// TotalLost is the cumulative number of packets lost.
	TotalLost uint32

	// HighestSeq is the extended highest sequence number received.
	HighestSeq uint32

	// Jitter is the interarrival jitter in RTP timestamp units.
	Jitter uint32

	// LastSR holds the middle 32 bits of the NTP timestamp from the last
	// sender report observed on the stream, zero if none.
	LastSR uint32

	// LastSRArrival is when that sender report arrived.
	LastSRArrival time.Time
}

// ReceptionReport materializes one receiver report block from the cached
// statistics. The delay-since-last-SR field is derived from now; with no
// sender report observed yet, both SR fields are zero per RFC 3550.
func (e SSRCEntry) ReceptionReport(now time.Time) rtcp.ReceptionReport {
	var delay uint32
	if e.LastSR != 0 && !e.LastSRArrival.IsZero() && now.After(e.LastSRArrival) {
		// Delay is expressed in units of 1/65536 seconds.
		delay = uint32(now.Sub(e.LastSRArrival).Seconds() * 65536)
	}
	return rtcp.ReceptionReport{
		SSRC:               e.SSRC,
		FractionLost:       e.FractionLost,
		TotalLost:          e.TotalLost & 0x00FFFFFF,
		LastSequenceNumber: e.HighestSeq,
		Jitter:             e.Jitter,
		LastSenderReport:   e.LastSR,
		Delay:              delay,
	}
}
