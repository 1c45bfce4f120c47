// Soak runner for the conference RTCP termination core.
//
// This tool builds one conference with a configurable number of simulated
// endpoints, feeds synthetic receive statistics into the cache, rotates the
// dominant speaker, and runs report cycles for an extended period while
// watching counters for anomalies (stalled sends, runaway memory, dropped
// events).
//
// Usage:
//
//	go run ./cmd/confsoak                  # defaults, 1h
//	go run ./cmd/confsoak -config soak.yaml
//
// Exposes pprof at :6060 for live profiling.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof endpoints
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/thesyncim/confbridge/pkg/conference"
	"github.com/thesyncim/confbridge/pkg/rtcpterm"
)

const (
	videoClockRate = 90000
	statusInterval = 30 * time.Second
	bridgeSSRC     = 0xB419DCE5
)

type soakConfig struct {
	Duration       time.Duration `mapstructure:"duration"`
	Endpoints      int           `mapstructure:"endpoints"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	SpeakerRotate  time.Duration `mapstructure:"speaker_rotate"`
	PprofPort      int           `mapstructure:"pprof_port"`
}

func loadConfig(path string) (soakConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("duration", "1h")
	v.SetDefault("endpoints", 8)
	v.SetDefault("report_interval", "1s")
	v.SetDefault("speaker_rotate", "5s")
	v.SetDefault("pprof_port", 6060)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return soakConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg soakConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return soakConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "Path to yaml config (optional)")
	flag.Parse()

	logrus.SetLevel(logrus.InfoLevel)
	log := logrus.WithField("tool", "confsoak")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("bad configuration")
	}

	log.WithFields(logrus.Fields{
		"duration":  cfg.Duration,
		"endpoints": cfg.Endpoints,
		"interval":  cfg.ReportInterval,
	}).Info("starting soak")

	go func() {
		addr := fmt.Sprintf(":%d", cfg.PprofPort)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.WithError(err).Warn("pprof server failed")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ok := runSoak(ctx, cfg, log)
	if !ok {
		os.Exit(1)
	}
}

// soakTransport is a counting, always-ready message transport.
type soakTransport struct {
	messages atomic.Uint64
}

func (t *soakTransport) IsReady() bool { return true }

func (t *soakTransport) SendText(string) error {
	t.messages.Add(1)
	return nil
}

// soakWriter counts control packets written toward one channel.
type soakWriter struct {
	packets atomic.Uint64
}

func (w *soakWriter) WriteRTCP(pkts []rtcp.Packet) error {
	w.packets.Add(uint64(len(pkts)))
	return nil
}

// soakActivity rotates the dominant speaker across the endpoint set.
type soakActivity struct {
	ids           []conference.EndpointID
	dominant      atomic.Int64
	notifications chan conference.ActivityNotification
}

func newSoakActivity(ids []conference.EndpointID) *soakActivity {
	return &soakActivity{
		ids:           ids,
		notifications: make(chan conference.ActivityNotification, 16),
	}
}

func (a *soakActivity) OrderedEndpoints() []conference.EndpointID {
	d := int(a.dominant.Load())
	out := make([]conference.EndpointID, 0, len(a.ids))
	out = append(out, a.ids[d])
	for i, id := range a.ids {
		if i != d {
			out = append(out, id)
		}
	}
	return out
}

func (a *soakActivity) DominantSpeaker() (conference.EndpointID, bool) {
	return a.ids[a.dominant.Load()], true
}

func (a *soakActivity) Notifications() <-chan conference.ActivityNotification {
	return a.notifications
}

func (a *soakActivity) rotate() {
	a.dominant.Store((a.dominant.Load() + 1) % int64(len(a.ids)))
	a.notifications <- conference.ActivityNotification{Kind: conference.ActivityDominantChanged}
	a.notifications <- conference.ActivityNotification{Kind: conference.ActivityRankingChanged}
}

// soakEstimator reports a slowly oscillating bitrate.
type soakEstimator struct {
	base  int64
	ssrcs []uint32
	tick  atomic.Int64
}

func (e *soakEstimator) LatestEstimate() (int64, bool) {
	t := e.tick.Add(1)
	return e.base + (t%20)*10_000, true
}

func (e *soakEstimator) ContributingSSRCs() []uint32 { return e.ssrcs }

func runSoak(ctx context.Context, cfg soakConfig, log logrus.FieldLogger) bool {
	ids := make([]conference.EndpointID, cfg.Endpoints)
	for i := range ids {
		ids[i] = conference.EndpointID(fmt.Sprintf("endpoint-%d", i))
	}
	activity := newSoakActivity(ids)

	confCfg := conference.DefaultConferenceConfig()
	confCfg.ID = "soak"
	confCfg.LocalSSRC = bridgeSSRC
	conf := conference.NewConference(confCfg, activity)
	defer conf.Expire()

	cache := rtcpterm.NewStatsCache()
	cache.SetCNAME(bridgeSSRC, "bridge@confsoak")

	estimators := rtcpterm.NewEstimatorMap()
	stats := rtcpterm.NewSendStats()

	video := conf.GetOrCreateContent("video")
	transports := make([]*soakTransport, cfg.Endpoints)
	var ssrcs []uint32

	for i, id := range ids {
		e := conf.GetOrCreateEndpoint(id)
		transports[i] = &soakTransport{}
		e.SetMessageTransport(transports[i])

		ch, err := video.CreateChannel(fmt.Sprintf("video-%d", i), e)
		if err != nil {
			log.WithError(err).Error("channel creation failed")
			return false
		}
		ch.SetRTCPWriter(&soakWriter{})
		low := uint32(1000 + i*10)
		high := low + 1
		ch.SetSimulcastLayers([]conference.SimulcastLayer{
			{PrimarySSRC: low, Rank: 0},
			{PrimarySSRC: high, Rank: 1},
		})
		cache.SetCNAME(low, string(id)+"@confsoak")
		cache.SetCNAME(high, string(id)+"@confsoak")
		ssrcs = append(ssrcs, low, high)

		estimators.Bind(ch.ID(), &soakEstimator{base: 500_000, ssrcs: []uint32{low, high}})
	}

	synthCfg := rtcpterm.DefaultSynthesizerConfig()
	synthCfg.Logger = log
	synth := rtcpterm.NewSynthesizer(conf, cache, estimators, stats, synthCfg)
	synth.BindTranslator(rtcpterm.NewLocalTranslator(bridgeSSRC))

	scheduler := rtcpterm.NewReportScheduler(rtcpterm.ReportSchedulerConfig{Interval: cfg.ReportInterval})

	seqs := make(map[uint32]uint16, len(ssrcs))
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	rotate := time.NewTicker(cfg.SpeakerRotate)
	defer rotate.Stop()

	start := time.Now()
	lastStatus := start
	var memStats runtime.MemStats
	pass := true

	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted")
			return pass

		case <-rotate.C:
			activity.rotate()

		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed >= cfg.Duration {
				log.WithFields(logrus.Fields{
					"compound":    stats.CompoundSent(),
					"sub_packets": stats.SubPacketsSent(),
					"elapsed":     elapsed,
				}).Info("soak finished")
				return pass
			}

			// Simulate 50pps of RTP per SSRC.
			for _, ssrc := range ssrcs {
				seqs[ssrc]++
				rtpTS := uint32(elapsed.Seconds() * videoClockRate)
				cache.ObserveRTP(ssrc, videoClockRate, seqs[ssrc], rtpTS, now)
			}

			if scheduler.MaybeRun(now) {
				synth.RunCycle(now)
			}

			if now.Sub(lastStatus) >= statusInterval {
				lastStatus = now
				runtime.ReadMemStats(&memStats)
				heapMB := float64(memStats.HeapAlloc) / (1024 * 1024)

				var delivered uint64
				for _, t := range transports {
					delivered += t.messages.Load()
				}

				log.WithFields(logrus.Fields{
					"compound":       stats.CompoundSent(),
					"missing_stats":  synth.MissingStatistics(),
					"messages":       delivered,
					"dropped_events": conf.DroppedEvents(),
					"heap_mb":        fmt.Sprintf("%.2f", heapMB),
					"gc":             memStats.NumGC,
				}).Info("status")

				if heapMB > 256 {
					log.Error("memory limit exceeded")
					pass = false
				}
			}
		}
	}
}
