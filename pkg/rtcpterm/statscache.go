package rtcpterm

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
)

// StatsCache is a concrete SSRCCache maintained from observed traffic: RTP
// arrivals drive sequence and jitter accounting per RFC 3550, sender reports
// provide the last-SR timestamp, and source descriptions resolve CNAMEs.
// Safe for concurrent use.
//
// Cutting an entry with Lookup closes the current loss-measurement interval:
// the fraction-lost field of the returned entry covers the time since the
// previous Lookup of the same SSRC. The synthesizer looks each SSRC up once
// per reporting cycle, so the interval matches the reporting interval.
type StatsCache struct {
	mu      sync.Mutex
	entries map[uint32]*receiveState
}

type receiveState struct {
	ssrc      uint32
	clockRate uint32
	cname     string

	received uint64

	initialized bool
	baseSeq     uint32
	maxSeq      uint16
	cycles      uint32

	expectedPrior uint64
	receivedPrior uint64

	hasTransit  bool
	lastTransit int64
	jitter      float64

	lastSR        uint32
	lastSRArrival time.Time
}

// NewStatsCache creates an empty statistics cache.
func NewStatsCache() *StatsCache {
	return &StatsCache{entries: make(map[uint32]*receiveState)}
}

func (c *StatsCache) state(ssrc uint32) *receiveState {
	st, ok := c.entries[ssrc]
	if !ok {
		st = &receiveState{ssrc: ssrc}
		c.entries[ssrc] = st
	}
	return st
}

// ObserveRTP feeds one RTP arrival into the cache. clockRate is the media
// clock rate of the stream and is needed for jitter; a zero clock rate skips
// jitter accounting for the packet.
func (c *StatsCache) ObserveRTP(ssrc uint32, clockRate uint32, seq uint16, rtpTS uint32, arrival time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(ssrc)
	if clockRate != 0 {
		st.clockRate = clockRate
	}
	st.received++

	if !st.initialized {
		st.initialized = true
		st.baseSeq = uint32(seq)
		st.maxSeq = seq
	} else {
		// Sequence wraparound per RFC 3550 appendix A.1.
		delta := seq - st.maxSeq
		if delta < 0x8000 {
			if seq < st.maxSeq {
				st.cycles++
			}
			st.maxSeq = seq
		}
	}

	if st.clockRate != 0 {
		arrivalTS := arrival.UnixNano() / int64(time.Second/time.Duration(st.clockRate))
		transit := arrivalTS - int64(rtpTS)
		if st.hasTransit {
			d := transit - st.lastTransit
			if d < 0 {
				d = -d
			}
			// Interarrival jitter estimator per RFC 3550 appendix A.8.
			st.jitter += (float64(d) - st.jitter) / 16
		}
		st.lastTransit = transit
		st.hasTransit = true
	}
}

// ObserveSenderReport records the sender report's NTP timestamp (its middle
// 32 bits) and arrival time for the reporting stream.
func (c *StatsCache) ObserveSenderReport(sr *rtcp.SenderReport, arrival time.Time) {
	if sr == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(sr.SSRC)
	st.lastSR = uint32(sr.NTPTime >> 16)
	st.lastSRArrival = arrival
}

// ObserveSourceDescription captures CNAMEs from an observed source
// description packet.
func (c *StatsCache) ObserveSourceDescription(sd *rtcp.SourceDescription) {
	if sd == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, chunk := range sd.Chunks {
		for _, item := range chunk.Items {
			if item.Type == rtcp.SDESCNAME && item.Text != "" {
				c.state(chunk.Source).cname = item.Text
			}
		}
	}
}

// SetCNAME resolves an SSRC to a canonical name directly, for streams whose
// CNAME is known from signaling rather than observed traffic (the bridge's
// own reporting SSRC, typically).
func (c *StatsCache) SetCNAME(ssrc uint32, cname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state(ssrc).cname = cname
}

// Lookup cuts a point-in-time entry for ssrc, closing the current
// loss-measurement interval. The second return is false when no traffic and
// no CNAME has been observed for the SSRC.
func (c *StatsCache) Lookup(ssrc uint32) (SSRCEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.entries[ssrc]
	if !ok {
		return SSRCEntry{}, false
	}

	extended := uint32(st.cycles)<<16 | uint32(st.maxSeq)

	var totalLost uint32
	var fraction uint8
	if st.initialized {
		expected := uint64(extended) - uint64(st.baseSeq) + 1
		if expected > st.received {
			lost := expected - st.received
			if lost > 0x00FFFFFF {
				lost = 0x00FFFFFF
			}
			totalLost = uint32(lost)
		}

		expectedInterval := expected - st.expectedPrior
		receivedInterval := st.received - st.receivedPrior
		if expectedInterval > receivedInterval && expectedInterval > 0 {
			lostInterval := expectedInterval - receivedInterval
			fraction = uint8((lostInterval << 8) / expectedInterval)
		}
		st.expectedPrior = expected
		st.receivedPrior = st.received
	}

	return SSRCEntry{
		SSRC:            ssrc,
		CNAME:           st.cname,
		PacketsReceived: st.received,
		FractionLost:    fraction,
		TotalLost:       totalLost,
		HighestSeq:      extended,
		Jitter:          uint32(st.jitter),
		LastSR:          st.lastSR,
		LastSRArrival:   st.lastSRArrival,
	}, true
}

// Forget drops the cached state for an SSRC, for streams that left the
// conference.
func (c *StatsCache) Forget(ssrc uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ssrc)
}
