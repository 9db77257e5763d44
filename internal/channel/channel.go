// Package channel defines Penny's chat transport contract (spec.md §6):
// the inbound envelope a transport delivers to the foreground message
// agent, and the outbound Sender surface every background agent uses to
// reach the user. Concrete transports (internal/channel/discord,
// internal/channel/signal) implement Sender.
package channel

import "context"

// Attachment is an image attached to an inbound or outbound message,
// carried as base64 per spec.md §6.
type Attachment struct {
	Base64      string
	ContentType string
}

// Envelope is an inbound message delivered by a channel transport
// (spec.md §6 "Channel inbound contract").
type Envelope struct {
	SenderID      string
	Content       string
	QuotedText    string
	Timestamp     int64
	Attachments   []Attachment
	IsReaction    bool
	TargetExternalID string // the outgoing message a reaction targets
}

// Sender is the outbound surface every agent shares (spec.md §6 "Channel
// outbound contract"). SendMessage returns the transport's external id for
// the sent message, or "" if the transport does not assign one.
type Sender interface {
	SendMessage(ctx context.Context, recipient, text string, attachments []Attachment, quoteExternalID string) (string, error)
	SendTyping(ctx context.Context, recipient string, on bool) error
	SendStatusMessage(ctx context.Context, recipient, text string) error
}
