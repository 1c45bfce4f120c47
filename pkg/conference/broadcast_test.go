package conference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConference_BroadcastBestEffort(t *testing.T) {
	conf := newTestConference(t)

	ready := &fakeTransport{ready: true}
	conf.GetOrCreateEndpoint("alice").SetMessageTransport(ready)

	notReady := &fakeTransport{ready: false}
	conf.GetOrCreateEndpoint("bob").SetMessageTransport(notReady)

	// carol has no transport at all.
	conf.GetOrCreateEndpoint("carol")

	failing := &fakeTransport{ready: true, err: errors.New("transport torn down")}
	conf.GetOrCreateEndpoint("dave").SetMessageTransport(failing)

	conf.BroadcastMessage("activeSpeaker:alice")

	assert.Equal(t, []string{"activeSpeaker:alice"}, ready.messages(), "the ready endpoint receives the message")
	assert.Empty(t, notReady.messages(), "a transport that is not ready is skipped, not retried")
	assert.Equal(t, uint64(3), conf.BroadcastFailures(), "missing, not-ready and failed deliveries are all counted")
}

func TestConference_BroadcastSkipsReleasedEndpoints(t *testing.T) {
	conf := newTestConference(t)

	gone := &fakeTransport{ready: true}
	e := conf.GetOrCreateEndpoint("alice")
	e.SetMessageTransport(gone)
	e.Release()

	conf.BroadcastMessage("hello")
	assert.Empty(t, gone.messages(), "a departed endpoint receives nothing")
}
