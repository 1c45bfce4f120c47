// Package conference models the topology a conference bridge consults when
// terminating RTCP on behalf of its participants: conferences, their media
// contents and channels, the endpoints that own those channels, and the
// SSRC-to-channel registry built on top of them.
package conference

// MediaType identifies the media partition a Content or Channel belongs to.
type MediaType string

const (
	// MediaAudio is the audio partition of a conference.
	MediaAudio MediaType = "audio"
	// MediaVideo is the video partition of a conference.
	MediaVideo MediaType = "video"
)

// EndpointID uniquely identifies a participant within a conference.
type EndpointID string

// SimulcastLayer is one quality variant of a logical video stream. Layers of
// a channel are ordered by ascending Rank, lowest quality first.
type SimulcastLayer struct {
	// PrimarySSRC is the SSRC carrying this layer's RTP stream.
	PrimarySSRC uint32

	// Rank is the layer's quality order. Lower rank means lower quality.
	Rank int
}

// MessageTransport is an endpoint's reliable out-of-band messaging channel,
// typically a WebRTC data channel. A transport that is not yet ready causes
// sends to it to be skipped, never retried.
type MessageTransport interface {
	// IsReady reports whether the transport can accept a send right now.
	IsReady() bool

	// SendText delivers a single text message to the endpoint.
	SendText(msg string) error
}

// SubscriptionSelector recomputes a video channel's stream subscription
// (a last-N style selection) against a new activity ordering. It returns the
// endpoints whose effective subscribed layer became newly visible or was
// promoted, meaning they must produce a keyframe before the viewer can
// decode them.
type SubscriptionSelector interface {
	Recompute(ordered []EndpointID) []EndpointID
}
