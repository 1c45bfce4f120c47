package rtcpterm

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCache_LossAccounting(t *testing.T) {
	c := NewStatsCache()
	arrival := time.Unix(100, 0)

	// Sequence 4 never arrives.
	for _, seq := range []uint16{1, 2, 3, 5, 6, 7, 8, 9, 10} {
		c.ObserveRTP(42, 0, seq, 0, arrival)
	}

	entry, ok := c.Lookup(42)
	require.True(t, ok, "observed traffic should produce an entry")
	assert.Equal(t, uint32(10), entry.HighestSeq, "highest extended sequence should follow the last packet")
	assert.Equal(t, uint64(9), entry.PacketsReceived)
	assert.Equal(t, uint32(1), entry.TotalLost, "one packet missing from the expected range")
	assert.Equal(t, uint8((1<<8)/10), entry.FractionLost, "fraction covers the whole first interval")
}

func TestStatsCache_LookupCutsInterval(t *testing.T) {
	c := NewStatsCache()
	arrival := time.Unix(100, 0)

	c.ObserveRTP(42, 0, 1, 0, arrival)
	c.ObserveRTP(42, 0, 3, 0, arrival)

	first, ok := c.Lookup(42)
	require.True(t, ok)
	assert.NotZero(t, first.FractionLost, "the skipped sequence counts against the first interval")

	// No traffic between the two cuts.
	second, ok := c.Lookup(42)
	require.True(t, ok)
	assert.Zero(t, second.FractionLost, "an empty interval has no fractional loss")
	assert.Equal(t, first.TotalLost, second.TotalLost, "cumulative loss is carried, not reset")
}

func TestStatsCache_SequenceWraparound(t *testing.T) {
	c := NewStatsCache()
	arrival := time.Unix(100, 0)

	for _, seq := range []uint16{65534, 65535, 0, 1} {
		c.ObserveRTP(7, 0, seq, 0, arrival)
	}

	entry, ok := c.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, uint32(1<<16|1), entry.HighestSeq, "wraparound should extend into the next cycle")
	assert.Zero(t, entry.TotalLost, "nothing was lost across the wrap")
}

func TestStatsCache_JitterTracksDelayVariation(t *testing.T) {
	c := NewStatsCache()
	const clockRate = 8000
	base := time.Unix(100, 0)

	// Two packets exactly on the media clock, then one arriving 12.5ms late.
	c.ObserveRTP(9, clockRate, 1, 0, base)
	c.ObserveRTP(9, clockRate, 2, 1000, base.Add(125*time.Millisecond))
	entry, ok := c.Lookup(9)
	require.True(t, ok)
	assert.Zero(t, entry.Jitter, "on-time arrivals produce no jitter")

	c.ObserveRTP(9, clockRate, 3, 2000, base.Add(250*time.Millisecond).Add(12500*time.Microsecond))
	entry, ok = c.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, uint32(6), entry.Jitter, "a 100-tick delay raises the estimator by 100/16")
}

func TestStatsCache_JitterAfterZeroTransitFirstPacket(t *testing.T) {
	c := NewStatsCache()
	const clockRate = 8000

	// The first packet's transit works out to exactly zero; it must still
	// count as the previous packet for the next delay comparison.
	base := time.Unix(0, 125_000_000)
	c.ObserveRTP(9, clockRate, 1, 1000, base)
	c.ObserveRTP(9, clockRate, 2, 2000, base.Add(137500*time.Microsecond))

	entry, ok := c.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, uint32(6), entry.Jitter, "the second packet's 100-tick delay must register")
}

func TestStatsCache_SenderReportTiming(t *testing.T) {
	c := NewStatsCache()
	arrival := time.Unix(200, 0)

	c.ObserveRTP(5, 0, 1, 0, arrival)
	c.ObserveSenderReport(&rtcp.SenderReport{
		SSRC:    5,
		NTPTime: 0x0123456789ABCDEF,
	}, arrival)

	entry, ok := c.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, uint32(0x456789AB), entry.LastSR, "LastSR is the middle 32 bits of the NTP timestamp")

	block := entry.ReceptionReport(arrival.Add(time.Second))
	assert.Equal(t, uint32(0x456789AB), block.LastSenderReport)
	assert.Equal(t, uint32(65536), block.Delay, "one second since SR arrival in 1/65536s units")
}

func TestStatsCache_CNAMEResolution(t *testing.T) {
	c := NewStatsCache()

	c.ObserveSourceDescription(&rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: 11,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "peer@host"}},
		}},
	})
	c.SetCNAME(12, "bridge@host")

	entry, ok := c.Lookup(11)
	require.True(t, ok)
	assert.Equal(t, "peer@host", entry.CNAME, "CNAME should be captured from observed descriptions")

	entry, ok = c.Lookup(12)
	require.True(t, ok)
	assert.Equal(t, "bridge@host", entry.CNAME, "CNAME should be settable from signaling")
}

func TestStatsCache_MissAndForget(t *testing.T) {
	c := NewStatsCache()

	_, ok := c.Lookup(99)
	assert.False(t, ok, "an SSRC never observed should miss")

	c.ObserveRTP(99, 0, 1, 0, time.Unix(100, 0))
	_, ok = c.Lookup(99)
	require.True(t, ok)

	c.Forget(99)
	_, ok = c.Lookup(99)
	assert.False(t, ok, "forgotten state must not linger")
}
