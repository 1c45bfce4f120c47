package rtcpterm

import (
	"sync"

	"github.com/thesyncim/confbridge/pkg/conference"
)

// Estimator exposes the result of a receive-side bandwidth estimator bound
// to one media stream. The estimation algorithm itself lives outside this
// core; only its latest output is consumed here.
type Estimator interface {
	// LatestEstimate returns the estimated receive bitrate in bits per
	// second. ok is false while the estimator has produced no estimate yet
	// (the "unset" sentinel); an unset estimate omits the REMB block for
	// the cycle.
	LatestEstimate() (bitrate int64, ok bool)

	// ContributingSSRCs returns the SSRCs the estimate applies to.
	ContributingSSRCs() []uint32
}

// EstimatorProvider resolves the estimator bound to a channel's media
// stream. A channel without a bound estimator yields nil, which omits the
// REMB block for that channel.
type EstimatorProvider interface {
	EstimatorFor(ch *conference.Channel) Estimator
}

// EstimatorMap is an EstimatorProvider backed by a map keyed by channel ID.
// Safe for concurrent use.
type EstimatorMap struct {
	mu sync.RWMutex
	m  map[string]Estimator
}

// NewEstimatorMap creates an empty estimator map.
func NewEstimatorMap() *EstimatorMap {
	return &EstimatorMap{m: make(map[string]Estimator)}
}

// Bind associates an estimator with a channel ID, replacing any previous
// binding. A nil estimator removes the binding.
func (p *EstimatorMap) Bind(channelID string, e Estimator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e == nil {
		delete(p.m, channelID)
		return
	}
	p.m[channelID] = e
}

// EstimatorFor returns the estimator bound to the channel, or nil.
func (p *EstimatorMap) EstimatorFor(ch *conference.Channel) Estimator {
	if ch == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.m[ch.ID()]
}
