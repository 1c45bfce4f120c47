package conference

import (
	"sort"
	"sync"

	"github.com/pion/rtcp"
)

// RTCPWriter sends control packets on a channel's own transport toward the
// channel's endpoint.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// Channel is a media transport endpoint within a Content. Video channels
// additionally expose the simulcast layers received from their endpoint,
// ordered by ascending quality rank, and a subscription selector driving
// last-N stream selection.
//
// A channel is associated with exactly one Endpoint for its whole lifetime.
type Channel struct {
	id       string
	content  *Content
	endpoint *Endpoint

	mu           sync.RWMutex
	receiveSSRCs []uint32
	layers       []SimulcastLayer
	selector     SubscriptionSelector
	rtcpWriter   RTCPWriter
	closed       bool
}

func newChannel(content *Content, id string, endpoint *Endpoint) *Channel {
	return &Channel{
		id:       id,
		content:  content,
		endpoint: endpoint,
	}
}

// ID returns the channel's identifier, unique within its content.
func (c *Channel) ID() string {
	return c.id
}

// Content returns the content this channel belongs to.
func (c *Channel) Content() *Content {
	return c.content
}

// Endpoint returns the endpoint this channel belongs to.
func (c *Channel) Endpoint() *Endpoint {
	return c.endpoint
}

// MediaType returns the media type of the channel's content.
func (c *Channel) MediaType() MediaType {
	return c.content.MediaType()
}

// AddReceiveSSRC registers an SSRC received on this channel. Duplicate adds
// are ignored.
func (c *Channel) AddReceiveSSRC(ssrc uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.receiveSSRCs {
		if s == ssrc {
			return
		}
	}
	c.receiveSSRCs = append(c.receiveSSRCs, ssrc)
}

// ReceiveSSRCs returns a snapshot of the SSRCs received on this channel.
func (c *Channel) ReceiveSSRCs() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint32, len(c.receiveSSRCs))
	copy(out, c.receiveSSRCs)
	return out
}

func (c *Channel) hasReceiveSSRC(ssrc uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.receiveSSRCs {
		if s == ssrc {
			return true
		}
	}
	return false
}

// SetSimulcastLayers replaces the channel's simulcast layers. The layers are
// copied and kept sorted by ascending rank. Each layer's primary SSRC is also
// registered as a receive SSRC.
func (c *Channel) SetSimulcastLayers(layers []SimulcastLayer) {
	sorted := make([]SimulcastLayer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	c.mu.Lock()
	c.layers = sorted
	c.mu.Unlock()

	for _, l := range sorted {
		c.AddReceiveSSRC(l.PrimarySSRC)
	}
}

// SimulcastLayers returns a snapshot of the channel's simulcast layers,
// ordered by ascending quality rank.
func (c *Channel) SimulcastLayers() []SimulcastLayer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SimulcastLayer, len(c.layers))
	copy(out, c.layers)
	return out
}

// SetSubscriptionSelector binds the channel's last-N selector. A channel
// without a selector reports no subscription changes.
func (c *Channel) SetSubscriptionSelector(s SubscriptionSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selector = s
}

// RecomputeSubscription recomputes the channel's stream subscription against
// a new activity ordering and returns the endpoints whose subscribed layer
// became newly visible or was promoted.
func (c *Channel) RecomputeSubscription(ordered []EndpointID) []EndpointID {
	c.mu.RLock()
	sel := c.selector
	c.mu.RUnlock()
	if sel == nil {
		return nil
	}
	return sel.Recompute(ordered)
}

// SetRTCPWriter binds the transport used to send control packets toward the
// channel's endpoint.
func (c *Channel) SetRTCPWriter(w RTCPWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtcpWriter = w
}

// RTCPWriter returns the channel's control packet transport, or nil if none
// is bound or the channel is closed.
func (c *Channel) RTCPWriter() RTCPWriter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	return c.rtcpWriter
}

// RequestKeyframe solicits a fresh keyframe from the channel's endpoint by
// sending a Picture Loss Indication on the channel's own transport.
// senderSSRC identifies the bridge. Channels with no known receive SSRC or
// no bound transport skip the request silently.
func (c *Channel) RequestKeyframe(senderSSRC uint32) error {
	c.mu.RLock()
	var mediaSSRC uint32
	switch {
	case len(c.layers) > 0:
		mediaSSRC = c.layers[0].PrimarySSRC
	case len(c.receiveSSRCs) > 0:
		mediaSSRC = c.receiveSSRCs[0]
	}
	w := c.rtcpWriter
	closed := c.closed
	c.mu.RUnlock()

	if closed || w == nil || mediaSSRC == 0 {
		return nil
	}
	pli := &rtcp.PictureLossIndication{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
	}
	return w.WriteRTCP([]rtcp.Packet{pli})
}

func (c *Channel) close() {
	c.mu.Lock()
	c.closed = true
	c.rtcpWriter = nil
	c.mu.Unlock()
	c.endpoint.removeChannel(c)
}
