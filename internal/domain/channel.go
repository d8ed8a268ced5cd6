package domain

import (
	"fmt"
	"strings"
)

// Channel represents the delivery channel of a workflow step.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelChat  Channel = "CHAT"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Channels lists every supported delivery channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelChat, ChannelPush, ChannelInApp}
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}
