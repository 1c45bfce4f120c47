package conference

import (
	"sync"
	"time"
)

// Content is a media-type partition of a Conference (its audio or its video).
// It owns the channels created within it. Contents are created lazily by
// Conference.GetOrCreateContent and refreshed on every lookup.
type Content struct {
	conf      *Conference
	name      string
	mediaType MediaType

	mu       sync.Mutex
	channels []*Channel

	expireMu sync.Mutex
	expired  bool

	activityMu   sync.Mutex
	lastActivity time.Time
}

func newContent(conf *Conference, name string) *Content {
	ct := &Content{
		conf:      conf,
		name:      name,
		mediaType: mediaTypeOf(name),
	}
	ct.Touch()
	return ct
}

// mediaTypeOf maps a content name to its media type. Unknown names map to
// themselves so callers can partition by arbitrary content names.
func mediaTypeOf(name string) MediaType {
	switch name {
	case string(MediaAudio):
		return MediaAudio
	case string(MediaVideo):
		return MediaVideo
	default:
		return MediaType(name)
	}
}

// Name returns the content's name, unique within its conference.
func (ct *Content) Name() string {
	return ct.name
}

// MediaType returns the media type of this content.
func (ct *Content) MediaType() MediaType {
	return ct.mediaType
}

// Conference returns the conference that owns this content.
func (ct *Content) Conference() *Conference {
	return ct.conf
}

// Touch refreshes the content's liveness timestamp.
func (ct *Content) Touch() {
	now := ct.conf.clock.Now()
	ct.activityMu.Lock()
	if ct.lastActivity.Before(now) {
		ct.lastActivity = now
	}
	ct.activityMu.Unlock()
}

// LastActivity returns the time of the last liveness refresh.
func (ct *Content) LastActivity() time.Time {
	ct.activityMu.Lock()
	defer ct.activityMu.Unlock()
	return ct.lastActivity
}

// CreateChannel creates a channel with the given id owned by endpoint and
// registers it with both the content and the endpoint. A nil endpoint is a
// caller bug and fails loudly with ErrNilEndpoint.
func (ct *Content) CreateChannel(id string, endpoint *Endpoint) (*Channel, error) {
	if endpoint == nil {
		return nil, ErrNilEndpoint
	}
	ch := newChannel(ct, id, endpoint)

	ct.mu.Lock()
	ct.channels = append(ct.channels, ch)
	ct.mu.Unlock()

	endpoint.addChannel(ch)
	ct.Touch()

	ct.conf.log.WithFields(channelFields(ch)).Debug("channel created")
	return ch, nil
}

// Channels returns a snapshot of the content's channels.
func (ct *Content) Channels() []*Channel {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make([]*Channel, len(ct.channels))
	copy(out, ct.channels)
	return out
}

// RemoveChannel removes a channel from the content and detaches it from its
// endpoint. Removing a channel the content does not hold is a no-op.
func (ct *Content) RemoveChannel(ch *Channel) {
	removed := false
	ct.mu.Lock()
	for i, c := range ct.channels {
		if c == ch {
			ct.channels = append(ct.channels[:i:i], ct.channels[i+1:]...)
			removed = true
			break
		}
	}
	ct.mu.Unlock()

	if removed {
		ch.close()
	}
}

func (ct *Content) findChannelBySSRC(ssrc uint32) *Channel {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	for _, ch := range ct.channels {
		if ch.hasReceiveSSRC(ssrc) {
			return ch
		}
	}
	return nil
}

// AskForKeyframes solicits a keyframe from every endpoint in the given set
// that owns a channel in this content. Failures are logged per channel and
// do not affect the other requests in the round.
func (ct *Content) AskForKeyframes(endpoints map[EndpointID]struct{}) {
	if len(endpoints) == 0 {
		return
	}
	senderSSRC := ct.conf.cfg.LocalSSRC
	for _, ch := range ct.Channels() {
		if _, ok := endpoints[ch.Endpoint().ID()]; !ok {
			continue
		}
		if err := ch.RequestKeyframe(senderSSRC); err != nil {
			ct.conf.log.WithFields(channelFields(ch)).WithError(err).
				Warn("keyframe request failed")
		}
	}
}

// Expire tears down the content and closes all of its channels. Expiry is
// monotone: the first call wins and later calls return immediately.
func (ct *Content) Expire() {
	ct.expireMu.Lock()
	if ct.expired {
		ct.expireMu.Unlock()
		return
	}
	ct.expired = true
	ct.expireMu.Unlock()

	for _, ch := range ct.Channels() {
		ch.close()
	}

	ct.mu.Lock()
	ct.channels = nil
	ct.mu.Unlock()

	ct.conf.log.WithField("content", ct.name).Info("content expired")
}

// IsExpired reports whether Expire has been called.
func (ct *Content) IsExpired() bool {
	ct.expireMu.Lock()
	defer ct.expireMu.Unlock()
	return ct.expired
}
