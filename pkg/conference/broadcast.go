package conference

// activeSpeakerPrefix prefixes the dominant-speaker broadcast message. The
// full message is "activeSpeaker:<endpointId>".
const activeSpeakerPrefix = "activeSpeaker:"

// BroadcastMessage sends a text message to every live endpoint's messaging
// transport, best effort. An endpoint with no transport, or one that is not
// ready yet, is skipped with a warning; a failed send is logged and counted.
// No delivery is retried and no failure blocks delivery to the remaining
// endpoints.
func (c *Conference) BroadcastMessage(msg string) {
	for _, e := range c.Endpoints() {
		c.sendMessage(e, msg)
	}
}

func (c *Conference) sendMessage(e *Endpoint, msg string) {
	log := c.log.WithField("endpoint", string(e.ID()))

	t := e.MessageTransport()
	if t == nil {
		log.Warn("no messaging transport with endpoint")
		c.broadcastFailures.Add(1)
		return
	}
	if !t.IsReady() {
		log.Warn("messaging transport with endpoint not ready yet")
		c.broadcastFailures.Add(1)
		return
	}
	if err := t.SendText(msg); err != nil {
		log.WithError(err).Error("messaging transport send failed")
		c.broadcastFailures.Add(1)
	}
}
