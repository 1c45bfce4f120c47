package rtcpterm

import (
	"sync"
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	pkts []rtcp.Packet
}

func (w *recordingWriter) WriteRTCP(pkts []rtcp.Packet) error {
	w.mu.Lock()
	w.pkts = append(w.pkts, pkts...)
	w.mu.Unlock()
	return nil
}

func TestLocalTranslator_WriteControl(t *testing.T) {
	_, ch := newSynthTestConference(t)

	tr := NewLocalTranslator(testLocalSSRC)
	assert.Equal(t, testLocalSSRC, tr.LocalSSRC())

	pkts := []rtcp.Packet{&rtcp.ReceiverReport{SSRC: testLocalSSRC}}

	err := tr.WriteControl(pkts, ch)
	assert.ErrorIs(t, err, ErrNoTransport, "a channel without a bound transport cannot be written to")

	w := &recordingWriter{}
	ch.SetRTCPWriter(w)
	require.NoError(t, tr.WriteControl(pkts, ch))
	assert.Len(t, w.pkts, 1, "the compound reaches the channel's own transport")

	err = tr.WriteControl(pkts, nil)
	assert.ErrorIs(t, err, ErrNilChannel)
}

func TestSendStats_Counters(t *testing.T) {
	s := NewSendStats()
	s.NotifySent([]rtcp.Packet{&rtcp.ReceiverReport{}, &rtcp.SourceDescription{}})
	s.NotifySent([]rtcp.Packet{&rtcp.ReceiverReport{}})

	assert.Equal(t, uint64(2), s.CompoundSent())
	assert.Equal(t, uint64(3), s.SubPacketsSent())
}

func TestEstimatorMap_Binding(t *testing.T) {
	_, ch := newSynthTestConference(t)

	m := NewEstimatorMap()
	assert.Nil(t, m.EstimatorFor(ch), "an unbound channel has no estimator")
	assert.Nil(t, m.EstimatorFor(nil))

	est := &fakeEstimator{bitrate: 1000, set: true}
	m.Bind(ch.ID(), est)
	assert.Same(t, est, m.EstimatorFor(ch))

	m.Bind(ch.ID(), nil)
	assert.Nil(t, m.EstimatorFor(ch), "a nil bind removes the estimator")
}
