package models

import "fmt"

// Channel identifies a delivery channel. The set is closed; adapters are
// registered per channel.
type Channel string

const (
	ChannelDirectMessage Channel = "direct_message"
	ChannelTextMessage   Channel = "text_message"
	ChannelMobilePush    Channel = "mobile_push"
	ChannelInApp         Channel = "in_app"
	ChannelWebhook       Channel = "webhook"
)

// Channels lists all supported channels.
var Channels = []Channel{
	ChannelDirectMessage, ChannelTextMessage, ChannelMobilePush, ChannelInApp, ChannelWebhook,
}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelDirectMessage, ChannelTextMessage, ChannelMobilePush, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

// ParseChannel converts a string to Channel, rejecting unknown values.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel: %q", s)
	}
	return c, nil
}
