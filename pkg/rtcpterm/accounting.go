package rtcpterm

import (
	"sync/atomic"

	"github.com/pion/rtcp"
)

// Accounting is the shared transmission-statistics collaborator. The
// synthesizer bypasses the generic broadcast send path when it addresses a
// compound packet to a single channel, so it notifies the accounting sink
// itself to keep cross-cutting statistics consistent.
type Accounting interface {
	NotifySent(pkts []rtcp.Packet)
}

// SendStats is an Accounting implementation counting synthesized sends.
// Safe for concurrent use.
type SendStats struct {
	compound   atomic.Uint64
	subPackets atomic.Uint64
}

// NewSendStats creates a zeroed SendStats.
func NewSendStats() *SendStats {
	return &SendStats{}
}

// NotifySent records one sent compound packet and its sub-packets.
func (s *SendStats) NotifySent(pkts []rtcp.Packet) {
	s.compound.Add(1)
	s.subPackets.Add(uint64(len(pkts)))
}

// CompoundSent returns the number of compound packets recorded.
func (s *SendStats) CompoundSent() uint64 {
	return s.compound.Load()
}

// SubPacketsSent returns the total number of sub-packets recorded.
func (s *SendStats) SubPacketsSent() uint64 {
	return s.subPackets.Load()
}
