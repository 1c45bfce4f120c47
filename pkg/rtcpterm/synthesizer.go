package rtcpterm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/confbridge/pkg/conference"
)

// SynthesizerConfig configures a Synthesizer.
type SynthesizerConfig struct {
	// Logger is the structured logger for per-cycle diagnostics. Defaults
	// to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

// DefaultSynthesizerConfig returns the default synthesizer configuration.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{}
}

// Synthesizer builds and sends destination-specific compound control packets
// for every video channel of a conference: a receiver report materialized
// from cached per-SSRC statistics, an optional REMB carrying the channel's
// bandwidth estimate, and a source description resolving the reported SSRCs
// to CNAMEs. The bridge's own SSRC is always the reporter identity.
//
// A Synthesizer is driven by an external scheduler, one RunCycle per
// reporting interval. Cycles are independent: they carry no state from one
// to the next, so a skipped or superseded cycle has no residual effect.
type Synthesizer struct {
	conf       *conference.Conference
	cache      SSRCCache
	estimators EstimatorProvider
	accounting Accounting
	log        logrus.FieldLogger

	mu         sync.Mutex
	translator Translator

	missingStats atomic.Uint64
}

// NewSynthesizer creates a synthesizer for the given conference. cache
// resolves per-SSRC statistics, estimators resolves per-channel bandwidth
// estimators (nil means no REMB is ever included), accounting receives a
// notification per sent compound packet (nil means no accounting).
func NewSynthesizer(conf *conference.Conference, cache SSRCCache, estimators EstimatorProvider, accounting Accounting, cfg SynthesizerConfig) *Synthesizer {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if accounting == nil {
		accounting = nopAccounting{}
	}
	return &Synthesizer{
		conf:       conf,
		cache:      cache,
		estimators: estimators,
		accounting: accounting,
		log:        log.WithField("conference", conf.ID()),
	}
}

// Conference returns the conference this synthesizer reports for.
func (s *Synthesizer) Conference() *conference.Conference {
	return s.conf
}

// BindTranslator binds the packet-relay transport. Until a translator of a
// recognized kind (a ControlWriter) is bound, every cycle is a silent no-op.
func (s *Synthesizer) BindTranslator(t Translator) {
	s.mu.Lock()
	s.translator = t
	s.mu.Unlock()
}

// RunCycle performs one reporting cycle: for every endpoint's video channel,
// build one compound packet addressed to that channel's transport and send
// it there. The endpoint snapshot is taken before any packet construction or
// send; an endpoint or channel that disappears mid-cycle fails only its own
// send. Per-channel failures are logged and never abort the cycle.
func (s *Synthesizer) RunCycle(now time.Time) {
	s.mu.Lock()
	t := s.translator
	s.mu.Unlock()

	cw, ok := t.(ControlWriter)
	if !ok {
		// Nothing to do this cycle: no transport of a recognized kind.
		s.log.Debug("report cycle skipped: no control transport bound")
		return
	}
	localSSRC := cw.LocalSSRC()

	for _, endpoint := range s.conf.Endpoints() {
		for _, ch := range endpoint.Channels(conference.MediaVideo) {
			pkts := s.buildCompound(ch, now, localSSRC)
			if err := cw.WriteControl(pkts, ch); err != nil {
				s.log.WithFields(logrus.Fields{
					"endpoint": string(endpoint.ID()),
					"channel":  ch.ID(),
				}).WithError(err).Warn("compound packet send failed")
				continue
			}
			// The generic broadcast send path was bypassed, so the shared
			// transmission statistics are updated here.
			s.accounting.NotifySent(pkts)
		}
	}
}

// buildCompound assembles the compound packet for one video channel in the
// fixed order [receiver report, REMB if an estimate is set, source
// description]. A channel with zero simulcast layers still yields a receiver
// report with zero blocks, keeping timing and description alive for the
// peer.
func (s *Synthesizer) buildCompound(ch *conference.Channel, now time.Time, localSSRC uint32) []rtcp.Packet {
	blocks, reported := s.makeReportBlocks(ch, now)

	rr := &rtcp.ReceiverReport{
		SSRC:    localSSRC,
		Reports: blocks,
	}
	sdes := s.makeSDES(localSSRC, reported)

	remb, err := s.MakeREMB(ch, localSSRC)
	if err != nil {
		// Only reachable through a caller bug; buildCompound always passes
		// its own non-nil channel.
		s.log.WithError(err).Error("REMB synthesis failed")
	}

	if remb == nil {
		return []rtcp.Packet{rr, sdes}
	}
	return []rtcp.Packet{rr, remb, sdes}
}

// makeReportBlocks materializes one report block per simulcast layer of the
// channel, ordered by quality rank, from the cached statistics. A layer with
// no cached entry contributes no block: the diagnostic is recorded and
// synthesis continues, since consumers of a missing layer are expected to
// demote their subscription.
func (s *Synthesizer) makeReportBlocks(ch *conference.Channel, now time.Time) ([]rtcp.ReceptionReport, []SSRCEntry) {
	layers := ch.SimulcastLayers()
	blocks := make([]rtcp.ReceptionReport, 0, len(layers))
	reported := make([]SSRCEntry, 0, len(layers))

	if s.cache == nil {
		return blocks, reported
	}
	for _, layer := range layers {
		entry, ok := s.cache.Lookup(layer.PrimarySSRC)
		if !ok {
			s.missingStats.Add(1)
			s.log.WithFields(logrus.Fields{
				"ssrc":    layer.PrimarySSRC,
				"channel": ch.ID(),
			}).Debug("no receive statistics for layer SSRC")
			continue
		}
		blocks = append(blocks, entry.ReceptionReport(now))
		reported = append(reported, entry)
	}
	return blocks, reported
}

// MakeREMB builds the bandwidth-estimate feedback for the channel's media
// stream, reporting as localSSRC. It returns (nil, nil) when no estimator is
// bound or the estimate is unset; the REMB block is then omitted for the
// cycle. A nil channel is a contract violation and returns ErrNilChannel.
func (s *Synthesizer) MakeREMB(ch *conference.Channel, localSSRC uint32) (*rtcp.ReceiverEstimatedMaximumBitrate, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	if s.estimators == nil {
		return nil, nil
	}
	est := s.estimators.EstimatorFor(ch)
	if est == nil {
		return nil, nil
	}
	bitrate, ok := est.LatestEstimate()
	if !ok {
		return nil, nil
	}

	s.log.WithFields(logrus.Fields{
		"channel": ch.ID(),
		"bitrate": bitrate,
	}).Debug("estimated bitrate")

	return &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: localSSRC,
		Bitrate:    float32(bitrate),
		SSRCs:      est.ContributingSSRCs(),
	}, nil
}

// makeSDES builds the source description: one CNAME chunk for the bridge's
// own reporting SSRC and one per reported entry. An SSRC without a
// resolvable CNAME contributes no chunk.
func (s *Synthesizer) makeSDES(localSSRC uint32, reported []SSRCEntry) *rtcp.SourceDescription {
	chunks := make([]rtcp.SourceDescriptionChunk, 0, 1+len(reported))

	if s.cache != nil {
		if entry, ok := s.cache.Lookup(localSSRC); ok && entry.CNAME != "" {
			chunks = append(chunks, cnameChunk(localSSRC, entry.CNAME))
		}
	}
	for _, entry := range reported {
		if entry.CNAME == "" {
			continue
		}
		chunks = append(chunks, cnameChunk(entry.SSRC, entry.CNAME))
	}
	return &rtcp.SourceDescription{Chunks: chunks}
}

func cnameChunk(ssrc uint32, cname string) rtcp.SourceDescriptionChunk {
	return rtcp.SourceDescriptionChunk{
		Source: ssrc,
		Items: []rtcp.SourceDescriptionItem{
			{Type: rtcp.SDESCNAME, Text: cname},
		},
	}
}

// MissingStatistics returns how many report blocks were omitted because the
// cache held no entry for a layer's SSRC. Diagnostic only.
func (s *Synthesizer) MissingStatistics() uint64 {
	return s.missingStats.Load()
}

type nopAccounting struct{}

func (nopAccounting) NotifySent([]rtcp.Packet) {}
