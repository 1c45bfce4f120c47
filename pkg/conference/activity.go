package conference

// ActivityKind discriminates speech activity notifications.
type ActivityKind int

const (
	// ActivityRankingChanged signals that the activity-ordered endpoint
	// list was reordered.
	ActivityRankingChanged ActivityKind = iota

	// ActivityDominantChanged signals a new dominant speaker.
	ActivityDominantChanged
)

// ActivityNotification is a change notification from a SpeechActivity
// tracker.
type ActivityNotification struct {
	Kind ActivityKind
}

// SpeechActivity supplies the conference with an activity ordering of its
// endpoints and the current dominant speaker. The conference subscribes to
// the tracker's notification channel once, at construction; closing the
// channel ends the subscription.
//
// Implemented outside this package; the tracker's detection algorithm is not
// part of the topology core.
type SpeechActivity interface {
	// OrderedEndpoints returns endpoint IDs ordered by speech activity,
	// most active first.
	OrderedEndpoints() []EndpointID

	// DominantSpeaker returns the current dominant speaker, if any.
	DominantSpeaker() (EndpointID, bool)

	// Notifications returns the tracker's change notification channel.
	Notifications() <-chan ActivityNotification
}

// run consumes speech activity notifications until the conference expires or
// the tracker closes its channel.
func (c *Conference) run(notifications <-chan ActivityNotification) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			switch n.Kind {
			case ActivityRankingChanged:
				c.speechActivityEndpointsChanged()
			case ActivityDominantChanged:
				c.dominantSpeakerChanged()
			}
		}
	}
}

// speechActivityEndpointsChanged reacts to a reordering of the active
// endpoint list. Every video channel recomputes its subscription against the
// new ordering; the endpoints whose layers became newly visible are asked for
// a keyframe, once, through each video content, so newly visible viewers
// decode immediately instead of waiting for the periodic keyframe interval.
func (c *Conference) speechActivityEndpointsChanged() {
	ordered := c.activity.OrderedEndpoints()

	needKeyframe := make(map[EndpointID]struct{})
	videoContents := make([]*Content, 0, 1)
	for _, ct := range c.Contents() {
		if ct.MediaType() != MediaVideo {
			continue
		}
		videoContents = append(videoContents, ct)
		for _, ch := range ct.Channels() {
			for _, id := range ch.RecomputeSubscription(ordered) {
				needKeyframe[id] = struct{}{}
			}
		}
	}

	if len(needKeyframe) == 0 {
		return
	}
	for _, ct := range videoContents {
		ct.AskForKeyframes(needKeyframe)
	}
}

// dominantSpeakerChanged reacts to a dominant speaker switch by broadcasting
// an activeSpeaker message to every endpoint's messaging transport.
func (c *Conference) dominantSpeakerChanged() {
	dominant, ok := c.activity.DominantSpeaker()

	log := c.log.WithField("dominant", string(dominant))
	log.Info("dominant speaker changed")

	c.publish(Event{Kind: EventDominantSpeakerChanged, Dominant: dominant})

	if !ok {
		return
	}
	c.BroadcastMessage(activeSpeakerPrefix + string(dominant))
}
