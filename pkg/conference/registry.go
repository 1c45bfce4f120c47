package conference

// FindChannelBySSRC finds the channel of this conference that receives the
// given SSRC within the given media type, or nil. At most one channel
// receives a given SSRC per media type.
func (c *Conference) FindChannelBySSRC(ssrc uint32, mediaType MediaType) *Channel {
	for _, ct := range c.Contents() {
		if ct.MediaType() != mediaType {
			continue
		}
		if ch := ct.findChannelBySSRC(ssrc); ch != nil {
			return ch
		}
	}
	return nil
}

// FindEndpointBySSRC finds the endpoint that sends an RTP stream with the
// given SSRC and media type into this conference, via the owning channel, or
// nil.
func (c *Conference) FindEndpointBySSRC(ssrc uint32, mediaType MediaType) *Endpoint {
	ch := c.FindChannelBySSRC(ssrc, mediaType)
	if ch == nil {
		return nil
	}
	return ch.Endpoint()
}
