package conference

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/confbridge/pkg/conference/internal"
)

// ConferenceConfig configures a Conference.
type ConferenceConfig struct {
	// ID is the conference identifier. When empty a random UUID is
	// generated.
	ID string

	// Focus is the identity of the conference focus that created this
	// instance. Empty means unrestricted.
	Focus string

	// LocalSSRC is the bridge's own SSRC, announced through signaling. It
	// identifies the bridge in keyframe requests sent toward endpoints.
	LocalSSRC uint32

	// EventBuffer is the capacity of the conference's event channel.
	EventBuffer int

	// Logger is the structured logger used by the conference and its
	// contents. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// Clock drives liveness timestamps. Defaults to the system clock.
	Clock internal.Clock
}

// DefaultConferenceConfig returns the default conference configuration.
func DefaultConferenceConfig() ConferenceConfig {
	return ConferenceConfig{
		EventBuffer: 16,
	}
}

// Conference owns the contents and the endpoint registry of one conference
// instance. Membership is mutated from session-management call paths and
// read concurrently from report synthesis and relay paths; every read used
// by those paths operates on a snapshot taken under lock.
//
// A Conference is destroyed by an explicit Expire, never by reference
// counting.
type Conference struct {
	cfg       ConferenceConfig
	id        string
	createdAt time.Time
	clock     internal.Clock
	log       logrus.FieldLogger
	activity  SpeechActivity

	contentsMu sync.Mutex
	contents   []*Content

	endpointsMu   sync.Mutex
	endpoints     map[EndpointID]*Endpoint
	endpointOrder []EndpointID

	// expireMu guards the one-shot expired flag and is held for the whole
	// teardown cascade, so a concurrent caller returns only after teardown
	// completed. It is distinct from the membership locks above.
	expireMu sync.Mutex
	expired  bool

	activityMu   sync.Mutex
	lastActivity time.Time

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup

	prunedEndpoints   atomic.Uint64
	droppedEvents     atomic.Uint64
	broadcastFailures atomic.Uint64
}

// NewConference creates a conference and, when activity is non-nil,
// subscribes to its notifications for the conference's lifetime.
func NewConference(cfg ConferenceConfig, activity SpeechActivity) *Conference {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = internal.MonotonicClock{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConferenceConfig().EventBuffer
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	c := &Conference{
		cfg:       cfg,
		id:        cfg.ID,
		clock:     cfg.Clock,
		activity:  activity,
		endpoints: make(map[EndpointID]*Endpoint),
		events:    make(chan Event, cfg.EventBuffer),
		stop:      make(chan struct{}),
	}
	c.createdAt = c.clock.Now()
	c.lastActivity = c.createdAt
	c.log = cfg.Logger.WithField("conference", c.id)

	if activity != nil {
		c.wg.Add(1)
		go c.run(activity.Notifications())
	}
	return c
}

// ID returns the conference identifier.
func (c *Conference) ID() string {
	return c.id
}

// Focus returns the identity of the conference focus, or the empty string if
// management of the conference is unrestricted.
func (c *Conference) Focus() string {
	return c.cfg.Focus
}

// CreatedAt returns the conference's creation time.
func (c *Conference) CreatedAt() time.Time {
	return c.createdAt
}

// Touch refreshes the conference's liveness timestamp.
func (c *Conference) Touch() {
	now := c.clock.Now()
	c.activityMu.Lock()
	if c.lastActivity.Before(now) {
		c.lastActivity = now
	}
	c.activityMu.Unlock()
}

// LastActivity returns the time of the last liveness refresh.
func (c *Conference) LastActivity() time.Time {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	return c.lastActivity
}

// GetOrCreateContent returns the content with the given name, creating it if
// it does not exist yet. An existing content is touched, since the lookup
// indicates it is still active.
func (c *Conference) GetOrCreateContent(name string) *Content {
	c.contentsMu.Lock()
	for _, ct := range c.contents {
		if ct.Name() == name {
			c.contentsMu.Unlock()
			ct.Touch()
			return ct
		}
	}
	ct := newContent(c, name)
	c.contents = append(c.contents, ct)
	total := len(c.contents)
	c.contentsMu.Unlock()

	c.log.WithFields(logrus.Fields{
		"content":  name,
		"contents": total,
	}).Info("content created")
	return ct
}

// Contents returns a snapshot of the conference's contents.
func (c *Conference) Contents() []*Content {
	c.contentsMu.Lock()
	defer c.contentsMu.Unlock()
	out := make([]*Content, len(c.contents))
	copy(out, c.contents)
	return out
}

// ExpireContent removes a content from the conference and expires it. A
// content the conference does not hold is left alone.
func (c *Conference) ExpireContent(ct *Content) {
	found := false
	c.contentsMu.Lock()
	for i, cur := range c.contents {
		if cur == ct {
			c.contents = append(c.contents[:i:i], c.contents[i+1:]...)
			found = true
			break
		}
	}
	c.contentsMu.Unlock()

	if found {
		ct.Expire()
	}
}

// GetOrCreateEndpoint returns the endpoint registered under id, creating and
// registering a new one if none is live under that id. Repeated lookups of
// the same id return the same instance until it is released; a released
// instance is replaced and pruned. Registration and pruning both signal an
// EndpointsChanged event, exactly once per call.
func (c *Conference) GetOrCreateEndpoint(id EndpointID) *Endpoint {
	changed := false

	c.endpointsMu.Lock()
	e, ok := c.endpoints[id]
	if ok && e.Released() {
		c.removeEndpointLocked(id)
		c.prunedEndpoints.Add(1)
		changed = true
		ok = false
	}
	if !ok {
		e = newEndpoint(id)
		c.endpoints[id] = e
		c.endpointOrder = append(c.endpointOrder, id)
		changed = true
	}
	c.endpointsMu.Unlock()

	if changed {
		c.publish(Event{Kind: EventEndpointsChanged})
		c.log.WithField("endpoint", string(id)).Info("endpoint registered")
	}
	return e
}

// Endpoints returns a point-in-time snapshot of the live endpoints in
// registration order. Entries whose endpoint was released are pruned as a
// side effect; if any were, a single EndpointsChanged event is signalled.
func (c *Conference) Endpoints() []*Endpoint {
	changed := false

	c.endpointsMu.Lock()
	out := make([]*Endpoint, 0, len(c.endpointOrder))
	for i := 0; i < len(c.endpointOrder); {
		id := c.endpointOrder[i]
		e := c.endpoints[id]
		if e == nil || e.Released() {
			c.removeEndpointLocked(id)
			c.prunedEndpoints.Add(1)
			changed = true
			continue
		}
		out = append(out, e)
		i++
	}
	c.endpointsMu.Unlock()

	if changed {
		c.publish(Event{Kind: EventEndpointsChanged})
	}
	return out
}

// removeEndpointLocked removes id from the table and the order slice. Caller
// holds endpointsMu.
func (c *Conference) removeEndpointLocked(id EndpointID) {
	delete(c.endpoints, id)
	for i, cur := range c.endpointOrder {
		if cur == id {
			c.endpointOrder = append(c.endpointOrder[:i:i], c.endpointOrder[i+1:]...)
			break
		}
	}
}

// Expire tears down the conference: the activity subscription is stopped and
// every current content is expired, each in isolation, so a failure tearing
// down one content does not prevent the rest. Expiry is monotone; concurrent
// callers race to flip the flag exactly once and the losers return after the
// winner's teardown completed.
func (c *Conference) Expire() {
	c.expireMu.Lock()
	defer c.expireMu.Unlock()
	if c.expired {
		return
	}
	c.expired = true

	close(c.stop)
	c.wg.Wait()

	contents := c.Contents()
	for _, ct := range contents {
		c.expireContentIsolated(ct)
	}

	c.log.WithField("contents", len(contents)).Info("conference expired")
}

func (c *Conference) expireContentIsolated(ct *Content) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"content": ct.Name(),
				"panic":   r,
			}).Warn("failed to expire content")
		}
	}()
	ct.Expire()
}

// IsExpired reports whether Expire has been called.
func (c *Conference) IsExpired() bool {
	c.expireMu.Lock()
	defer c.expireMu.Unlock()
	return c.expired
}

// PrunedEndpoints returns how many released endpoint entries have been
// pruned from the registry. Diagnostic only.
func (c *Conference) PrunedEndpoints() uint64 {
	return c.prunedEndpoints.Load()
}

// DroppedEvents returns how many events were dropped because the event
// channel was full. Diagnostic only.
func (c *Conference) DroppedEvents() uint64 {
	return c.droppedEvents.Load()
}

// BroadcastFailures returns how many per-endpoint message deliveries were
// skipped or failed. Diagnostic only.
func (c *Conference) BroadcastFailures() uint64 {
	return c.broadcastFailures.Load()
}

func channelFields(ch *Channel) logrus.Fields {
	return logrus.Fields{
		"content":  ch.Content().Name(),
		"channel":  ch.ID(),
		"endpoint": string(ch.Endpoint().ID()),
	}
}
