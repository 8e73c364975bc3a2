package model

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelBoth     Channel = "both"
)

// Valid reports whether c is a known campaign channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp || c == ChannelBoth
}

// Expand returns the delivery channels a campaign channel fans out to.
func (c Channel) Expand() []Channel {
	switch c {
	case ChannelEmail:
		return []Channel{ChannelEmail}
	case ChannelWhatsApp:
		return []Channel{ChannelWhatsApp}
	case ChannelBoth:
		return []Channel{ChannelEmail, ChannelWhatsApp}
	}
	return nil
}

// DeliveryChannels are the transports a sender can be registered for.
var DeliveryChannels = []Channel{ChannelEmail, ChannelWhatsApp}
