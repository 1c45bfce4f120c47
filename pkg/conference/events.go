package conference

// EventKind discriminates the typed change events a conference publishes.
type EventKind int

const (
	// EventEndpointsChanged signals that the set of live endpoints changed:
	// an endpoint was registered, or a released endpoint was pruned.
	EventEndpointsChanged EventKind = iota

	// EventDominantSpeakerChanged signals that the speech activity tracker
	// identified a new dominant speaker.
	EventDominantSpeakerChanged
)

// String returns a readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventEndpointsChanged:
		return "EndpointsChanged"
	case EventDominantSpeakerChanged:
		return "DominantSpeakerChanged"
	default:
		return "Unknown"
	}
}

// Event is a typed change notification published on the conference's event
// channel.
type Event struct {
	Kind EventKind

	// Dominant is the new dominant speaker. Set only for
	// EventDominantSpeakerChanged.
	Dominant EndpointID
}

// Events returns the conference's event channel. The channel is created once
// at construction; publishing never blocks, and events that find the channel
// full are counted and dropped (see DroppedEvents).
func (c *Conference) Events() <-chan Event {
	return c.events
}

func (c *Conference) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.droppedEvents.Add(1)
	}
}
