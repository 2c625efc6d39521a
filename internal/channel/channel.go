// Package channel defines the notification delivery capabilities the
// dispatcher fans out to, independent of any particular provider.
package channel

import (
	"context"
	"fmt"
)

// Channel identifiers as recorded in the reminder log.
const (
	Voice = "voice"
	Chat  = "whatsapp"
)

// Receipt is a provider acknowledgment for one accepted send.
type Receipt struct {
	SID string
}

// DeliveryError is a transport/provider failure for a single attempt. The
// core records it and moves on; there is no automatic retry.
type DeliveryError struct {
	Code    string
	Message string
}

func (e *DeliveryError) Error() string {
	if e.Code == "" {
		return "delivery failed: " + e.Message
	}
	return fmt.Sprintf("delivery failed (code %s): %s", e.Code, e.Message)
}

// CallContent is what a voice call plays: a hosted audio asset when AudioURL
// is set, spoken text otherwise.
type CallContent struct {
	AudioURL string
	Say      string
}

// Message is one chat message, optionally with an attached media URL.
type Message struct {
	Body     string
	MediaURL string
}

// VoiceChannel places one reminder call.
type VoiceChannel interface {
	Call(ctx context.Context, phone string, content CallContent) (Receipt, error)
}

// ChatChannel sends one reminder chat message.
type ChatChannel interface {
	Send(ctx context.Context, phone string, msg Message) (Receipt, error)
}
