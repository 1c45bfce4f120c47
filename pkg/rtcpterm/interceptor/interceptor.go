// Package interceptor binds the RTCP termination core into a Pion
// interceptor pipeline. Inbound compound control packets pass through the
// relay filter before the rest of the pipeline sees them, observed RTP and
// RTCP feed the per-SSRC statistics cache, and a report loop drives
// synthesizer cycles once an RTCP writer is bound.
package interceptor

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/confbridge/pkg/conference"
	"github.com/thesyncim/confbridge/pkg/rtcpterm"
)

// TerminationInterceptor is a Pion interceptor wrapping the termination
// core.
//
// Usage:
//
//	synth := rtcpterm.NewSynthesizer(conf, cache, estimators, accounting, rtcpterm.DefaultSynthesizerConfig())
//	i := NewTerminationInterceptor(synth, cache, WithLocalSSRC(bridgeSSRC))
//	// Add to interceptor registry...
type TerminationInterceptor struct {
	interceptor.NoOp

	filter    rtcpterm.Filter
	cache     *rtcpterm.StatsCache
	synth     *rtcpterm.Synthesizer
	scheduler *rtcpterm.ReportScheduler
	log       logrus.FieldLogger

	localSSRC      uint32
	reportInterval time.Duration

	mu         sync.Mutex
	rtcpWriter interceptor.RTCPWriter

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	loopOnce  sync.Once
}

// Option is a functional option for configuring TerminationInterceptor.
type Option func(*TerminationInterceptor)

// WithReportInterval sets the reporting interval. Default is 1 second.
func WithReportInterval(d time.Duration) Option {
	return func(i *TerminationInterceptor) {
		i.reportInterval = d
	}
}

// WithLocalSSRC sets the bridge's reporting SSRC used in synthesized
// packets.
func WithLocalSSRC(ssrc uint32) Option {
	return func(i *TerminationInterceptor) {
		i.localSSRC = ssrc
	}
}

// WithLogger sets the structured logger. Defaults to
// logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(i *TerminationInterceptor) {
		i.log = log
	}
}

// NewTerminationInterceptor creates an interceptor around an existing
// synthesizer and statistics cache. The synthesizer's translator is bound
// when Pion provides the RTCP writer; until then report cycles are no-ops.
func NewTerminationInterceptor(synth *rtcpterm.Synthesizer, cache *rtcpterm.StatsCache, opts ...Option) *TerminationInterceptor {
	i := &TerminationInterceptor{
		cache:          cache,
		synth:          synth,
		reportInterval: time.Second,
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logrus.StandardLogger()
	}

	cfg := rtcpterm.DefaultReportSchedulerConfig()
	cfg.Interval = i.reportInterval
	i.scheduler = rtcpterm.NewReportScheduler(cfg)

	return i
}

// Close shuts down the interceptor's loops and releases resources.
func (i *TerminationInterceptor) Close() error {
	i.closeOnce.Do(func() {
		close(i.closed)
	})
	i.wg.Wait()
	return nil
}

// BindRTCPWriter is called by Pion when the RTCP writer is ready. It binds
// the synthesizer's transport and starts the report loop.
func (i *TerminationInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	i.mu.Lock()
	i.rtcpWriter = writer
	i.mu.Unlock()

	i.synth.BindTranslator(&writerTranslator{writer: writer, ssrc: i.localSSRC})

	i.loopOnce.Do(func() {
		i.wg.Add(2)
		go i.reportLoop()
		go i.eventLoop()
	})

	return writer // Pass through unchanged
}

// BindRTCPReader wraps the inbound RTCP reader with the relay filter. Sender
// reports and source descriptions are fed to the statistics cache before
// filtering. A compound packet whose every sub-packet is dropped produces
// nothing to relay; the reader then blocks until the next inbound packet.
func (i *TerminationInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		for {
			n, attr, err := reader.Read(b, a)
			if err != nil {
				return n, attr, err
			}

			pkts, perr := rtcp.Unmarshal(b[:n])
			if perr != nil {
				// Not interpretable as RTCP here: relay opaquely.
				return n, attr, nil
			}

			now := time.Now()
			for _, p := range pkts {
				switch pkt := p.(type) {
				case *rtcp.SenderReport:
					i.cache.ObserveSenderReport(pkt, now)
				case *rtcp.SourceDescription:
					i.cache.ObserveSourceDescription(pkt)
				}
			}

			data, ok := i.filterInbound(pkts)
			if !ok {
				continue // Nothing to relay; read the next compound.
			}
			// Filtering only drops or shrinks sub-packets, so the result
			// fits the caller's buffer.
			copy(b, data)
			return len(data), attr, nil
		}
	})
}

// filterInbound applies the relay filter to one parsed compound packet and
// re-marshals the survivors. ok is false when every sub-packet was dropped or
// the survivors could not be re-marshaled; the compound is then not relayed.
// The bridge is the sole synthesizer of the muted packet kinds, so on a
// marshal failure dropping the compound is the only acceptable outcome: the
// unfiltered original must never reach the peers.
func (i *TerminationInterceptor) filterInbound(pkts []rtcp.Packet) ([]byte, bool) {
	out := i.filter.Apply(pkts)
	if out == nil {
		return nil, false
	}
	data, err := rtcp.Marshal(out)
	if err != nil {
		i.log.WithError(err).Warn("re-marshal of filtered compound failed, dropping")
		return nil, false
	}
	return data, true
}

// BindRemoteStream observes RTP arrivals of the stream into the statistics
// cache.
func (i *TerminationInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	ssrc := uint32(info.SSRC)
	clockRate := info.ClockRate

	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err == nil && n > 0 {
			var header rtp.Header
			if _, herr := header.Unmarshal(b[:n]); herr == nil {
				i.cache.ObserveRTP(ssrc, clockRate, header.SequenceNumber, header.Timestamp, time.Now())
			}
		}
		return n, attr, err
	})
}

// UnbindRemoteStream drops the stream's cached statistics.
func (i *TerminationInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	i.cache.Forget(uint32(info.SSRC))
}

// reportLoop drives synthesizer cycles on the scheduler's cadence. The loop
// ticks finer than the reporting interval so a forced cycle (after a
// membership change) runs promptly.
func (i *TerminationInterceptor) reportLoop() {
	defer i.wg.Done()

	granularity := i.reportInterval / 4
	if granularity > 250*time.Millisecond {
		granularity = 250 * time.Millisecond
	}
	if granularity < 10*time.Millisecond {
		granularity = 10 * time.Millisecond
	}

	ticker := time.NewTicker(granularity)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case now := <-ticker.C:
			if i.scheduler.MaybeRun(now) {
				i.synth.RunCycle(now)
			}
		}
	}
}

// eventLoop watches the conference's event channel and forces a report cycle
// when membership changes.
func (i *TerminationInterceptor) eventLoop() {
	defer i.wg.Done()

	events := i.synth.Conference().Events()
	for {
		select {
		case <-i.closed:
			return
		case ev := <-events:
			if ev.Kind == conference.EventEndpointsChanged {
				i.scheduler.ForceNext()
			}
		}
	}
}

// writerTranslator adapts a Pion RTCP writer to the synthesizer's
// ControlWriter. The bound writer is already the channel pair's own RTCP
// path, so the channel argument only guards the contract.
type writerTranslator struct {
	writer interceptor.RTCPWriter
	ssrc   uint32
}

func (t *writerTranslator) LocalSSRC() uint32 {
	return t.ssrc
}

func (t *writerTranslator) WriteControl(pkts []rtcp.Packet, ch *conference.Channel) error {
	if ch == nil {
		return rtcpterm.ErrNilChannel
	}
	_, err := t.writer.Write(pkts, nil)
	return err
}
