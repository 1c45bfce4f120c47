package rtcpterm

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/confbridge/pkg/conference"
)

const testLocalSSRC = uint32(0xB419D6E5)

type fakeCache map[uint32]SSRCEntry

func (c fakeCache) Lookup(ssrc uint32) (SSRCEntry, bool) {
	e, ok := c[ssrc]
	return e, ok
}

type fakeEstimator struct {
	bitrate int64
	set     bool
	ssrcs   []uint32
}

func (e *fakeEstimator) LatestEstimate() (int64, bool) { return e.bitrate, e.set }
func (e *fakeEstimator) ContributingSSRCs() []uint32   { return e.ssrcs }

type staticProvider struct {
	e Estimator
}

func (p staticProvider) EstimatorFor(*conference.Channel) Estimator { return p.e }

type capturedWrite struct {
	ch   *conference.Channel
	pkts []rtcp.Packet
}

// captureTranslator is a ControlWriter recording every addressed send.
type captureTranslator struct {
	mu     sync.Mutex
	writes []capturedWrite
}

func (t *captureTranslator) LocalSSRC() uint32 { return testLocalSSRC }

func (t *captureTranslator) WriteControl(pkts []rtcp.Packet, ch *conference.Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, capturedWrite{ch: ch, pkts: pkts})
	return nil
}

func (t *captureTranslator) all() []capturedWrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]capturedWrite, len(t.writes))
	copy(out, t.writes)
	return out
}

// plainTranslator carries a local SSRC but is not a ControlWriter, so the
// synthesizer must treat it as an unrecognized transport kind.
type plainTranslator struct{}

func (plainTranslator) LocalSSRC() uint32 { return testLocalSSRC }

type countingAccounting struct {
	mu       sync.Mutex
	compound int
	subs     int
}

func (a *countingAccounting) NotifySent(pkts []rtcp.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compound++
	a.subs += len(pkts)
}

func newSynthTestConference(t *testing.T) (*conference.Conference, *conference.Channel) {
	t.Helper()
	cfg := conference.DefaultConferenceConfig()
	cfg.ID = "synth-test"
	cfg.LocalSSRC = testLocalSSRC
	conf := conference.NewConference(cfg, nil)
	t.Cleanup(conf.Expire)

	alice := conf.GetOrCreateEndpoint("alice")
	video := conf.GetOrCreateContent("video")
	ch, err := video.CreateChannel("v0", alice)
	require.NoError(t, err, "channel creation should succeed")
	ch.SetSimulcastLayers([]conference.SimulcastLayer{
		{PrimarySSRC: 101, Rank: 0},
		{PrimarySSRC: 102, Rank: 1},
	})
	return conf, ch
}

func TestSynthesizer_CompoundForPartiallyCachedLayers(t *testing.T) {
	conf, ch := newSynthTestConference(t)

	cache := fakeCache{
		101: {SSRC: 101, CNAME: "alice@bridge", TotalLost: 3, HighestSeq: 500, Jitter: 7},
		testLocalSSRC: {SSRC: testLocalSSRC, CNAME: "bridge@bridge"},
		// 102 intentionally absent.
	}
	est := &fakeEstimator{bitrate: 150_000, set: true, ssrcs: []uint32{101, 102}}
	tr := &captureTranslator{}
	acct := &countingAccounting{}

	s := NewSynthesizer(conf, cache, staticProvider{est}, acct, DefaultSynthesizerConfig())
	s.BindTranslator(tr)
	s.RunCycle(time.Now())

	writes := tr.all()
	require.Len(t, writes, 1, "one compound packet for the single video channel")
	assert.Same(t, ch, writes[0].ch, "packet should be addressed to the channel's transport")

	pkts := writes[0].pkts
	require.Len(t, pkts, 3, "compound should be [RR, REMB, SDES]")

	rr, ok := pkts[0].(*rtcp.ReceiverReport)
	require.True(t, ok, "first sub-packet should be a receiver report")
	assert.Equal(t, testLocalSSRC, rr.SSRC, "the bridge reports as itself, never as a peer")
	require.Len(t, rr.Reports, 1, "only the cached layer produces a block")
	assert.Equal(t, uint32(101), rr.Reports[0].SSRC, "block should cover ssrc 101")
	assert.Equal(t, uint32(3), rr.Reports[0].TotalLost, "loss comes from the cached entry")

	remb, ok := pkts[1].(*rtcp.ReceiverEstimatedMaximumBitrate)
	require.True(t, ok, "second sub-packet should be the REMB")
	assert.Equal(t, float32(150_000), remb.Bitrate, "REMB carries the estimator's bitrate")
	assert.Equal(t, testLocalSSRC, remb.SenderSSRC, "REMB sender is the bridge")
	assert.Equal(t, []uint32{101, 102}, remb.SSRCs, "REMB covers the estimator's SSRC set")

	sdes, ok := pkts[2].(*rtcp.SourceDescription)
	require.True(t, ok, "last sub-packet should be the SDES")
	require.Len(t, sdes.Chunks, 2, "bridge chunk plus ssrc 101 chunk; 102 contributes nothing")
	assert.Equal(t, testLocalSSRC, sdes.Chunks[0].Source, "bridge chunk comes first")
	assert.Equal(t, "bridge@bridge", sdes.Chunks[0].Items[0].Text)
	assert.Equal(t, uint32(101), sdes.Chunks[1].Source)
	assert.Equal(t, "alice@bridge", sdes.Chunks[1].Items[0].Text)

	assert.Equal(t, 1, acct.compound, "accounting should see the bypassed send")
	assert.Equal(t, uint64(1), s.MissingStatistics(), "the uncached layer is a recorded diagnostic")
}

func TestSynthesizer_UnsetEstimateOmitsREMB(t *testing.T) {
	conf, _ := newSynthTestConference(t)

	cache := fakeCache{101: {SSRC: 101, CNAME: "alice@bridge"}}
	est := &fakeEstimator{set: false}
	tr := &captureTranslator{}

	s := NewSynthesizer(conf, cache, staticProvider{est}, nil, DefaultSynthesizerConfig())
	s.BindTranslator(tr)
	s.RunCycle(time.Now())

	writes := tr.all()
	require.Len(t, writes, 1)
	pkts := writes[0].pkts
	require.Len(t, pkts, 2, "compound should be [RR, SDES] with the REMB omitted")
	_, ok := pkts[0].(*rtcp.ReceiverReport)
	assert.True(t, ok, "first sub-packet should be the receiver report")
	_, ok = pkts[1].(*rtcp.SourceDescription)
	assert.True(t, ok, "second sub-packet should be the SDES")
}

func TestSynthesizer_ZeroLayersStillReports(t *testing.T) {
	cfg := conference.DefaultConferenceConfig()
	cfg.LocalSSRC = testLocalSSRC
	conf := conference.NewConference(cfg, nil)
	t.Cleanup(conf.Expire)

	bob := conf.GetOrCreateEndpoint("bob")
	video := conf.GetOrCreateContent("video")
	_, err := video.CreateChannel("v0", bob)
	require.NoError(t, err)

	tr := &captureTranslator{}
	s := NewSynthesizer(conf, fakeCache{}, nil, nil, DefaultSynthesizerConfig())
	s.BindTranslator(tr)
	s.RunCycle(time.Now())

	writes := tr.all()
	require.Len(t, writes, 1, "a channel with zero layers still gets a compound packet")
	rr, ok := writes[0].pkts[0].(*rtcp.ReceiverReport)
	require.True(t, ok)
	assert.Empty(t, rr.Reports, "receiver report should carry zero blocks")
}

func TestSynthesizer_NoTranslatorIsSilentNoOp(t *testing.T) {
	conf, _ := newSynthTestConference(t)

	acct := &countingAccounting{}
	s := NewSynthesizer(conf, fakeCache{}, nil, acct, DefaultSynthesizerConfig())

	s.RunCycle(time.Now())
	assert.Zero(t, acct.compound, "unbound transport means nothing to do this cycle")

	s.BindTranslator(plainTranslator{})
	s.RunCycle(time.Now())
	assert.Zero(t, acct.compound, "an unrecognized transport kind is also a no-op")
}

func TestSynthesizer_PerChannelSendFailureIsIsolated(t *testing.T) {
	cfg := conference.DefaultConferenceConfig()
	cfg.LocalSSRC = testLocalSSRC
	conf := conference.NewConference(cfg, nil)
	t.Cleanup(conf.Expire)

	video := conf.GetOrCreateContent("video")
	for _, id := range []conference.EndpointID{"a", "b", "c"} {
		e := conf.GetOrCreateEndpoint(id)
		_, err := video.CreateChannel("v-"+string(id), e)
		require.NoError(t, err)
	}

	tr := &failingTranslator{failChannel: "v-b"}
	acct := &countingAccounting{}
	s := NewSynthesizer(conf, fakeCache{}, nil, acct, DefaultSynthesizerConfig())
	s.BindTranslator(tr)
	s.RunCycle(time.Now())

	assert.Equal(t, 2, acct.compound, "the failing channel must not abort the other sends")
}

// failingTranslator fails sends addressed to one channel ID.
type failingTranslator struct {
	failChannel string
}

func (t *failingTranslator) LocalSSRC() uint32 { return testLocalSSRC }

func (t *failingTranslator) WriteControl(pkts []rtcp.Packet, ch *conference.Channel) error {
	if ch.ID() == t.failChannel {
		return ErrNoTransport
	}
	return nil
}

func TestSynthesizer_MakeREMBNilChannel(t *testing.T) {
	conf, _ := newSynthTestConference(t)
	s := NewSynthesizer(conf, fakeCache{}, staticProvider{&fakeEstimator{set: true}}, nil, DefaultSynthesizerConfig())

	_, err := s.MakeREMB(nil, testLocalSSRC)
	assert.ErrorIs(t, err, ErrNilChannel, "a nil channel is a contract violation and must fail loudly")
}
