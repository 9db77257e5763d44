// Package discord implements channel.Sender and an inbound envelope
// listener against Discord's gateway, via bwmarrin/discordgo. No
// discordgo usage survived distillation into the retrieved pack, so this
// is grounded directly on the library's own conventional session/handler
// shape (New, AddHandler, Open, ChannelMessageSendComplex) and on
// spec.md §6's channel contract, the same boundary the pack's generic
// agent frameworks use for any external SDK they wrap without an example
// of their own.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/channel"
	"github.com/jaredlockhart/penny/internal/config"
)

// Client is a Discord-gateway-backed channel.Sender.
type Client struct {
	session    *discordgo.Session
	log        zerolog.Logger
	maxRetries int
	retryBase  time.Duration
}

// New constructs a Client from a bot token without opening the gateway
// connection; call Listen to open it and start receiving.
func New(cfg config.DiscordConfig, timings config.Timings, thresholds config.Thresholds, log zerolog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsDirectMessages

	retries := thresholds.LLMMaxRetries
	if retries <= 0 {
		retries = 3
	}
	base := timings.LLMRetryBaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	return &Client{session: session, log: log.With().Str("channel", "discord").Logger(), maxRetries: retries, retryBase: base}, nil
}

var _ channel.Sender = (*Client)(nil)

// SendMessage posts an outbound message, retrying transient (5xx-shaped)
// REST failures with exponential backoff (spec.md §6).
func (c *Client) SendMessage(ctx context.Context, recipient, text string, attachments []channel.Attachment, quoteExternalID string) (string, error) {
	if text == "" && len(attachments) == 0 {
		return "", fmt.Errorf("discord: send_message: empty text with no attachments")
	}

	data := &discordgo.MessageSend{Content: text}
	if quoteExternalID != "" {
		data.Reference = &discordgo.MessageReference{MessageID: quoteExternalID, ChannelID: recipient}
	}
	for i, a := range attachments {
		data.Files = append(data.Files, &discordgo.File{
			Name:        fmt.Sprintf("attachment-%d", i),
			ContentType: a.ContentType,
			Reader:      strings.NewReader(a.Base64),
		})
	}

	var sent *discordgo.Message
	err := c.retry(ctx, func() error {
		m, err := c.session.ChannelMessageSendComplex(recipient, data, discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		sent = m
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return sent.ID, nil
}

// SendTyping triggers Discord's typing indicator. Discord has no explicit
// "stop typing" call; the indicator expires on its own, so on == false is
// a no-op (spec.md §5 "typing indicators are fire-and-forget").
func (c *Client) SendTyping(ctx context.Context, recipient string, on bool) error {
	if !on {
		return nil
	}
	return c.retry(ctx, func() error {
		return c.session.ChannelTyping(recipient, discordgo.WithContext(ctx))
	})
}

// SendStatusMessage sends an unlogged status ping, identical in transport
// to SendMessage (spec.md §6).
func (c *Client) SendStatusMessage(ctx context.Context, recipient, text string) error {
	_, err := c.SendMessage(ctx, recipient, text, nil, "")
	return err
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil && restErr.Response.StatusCode < 500 {
				return err
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("discord request failed, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("discord: exhausted retries: %w", lastErr)
}

// Listen opens the gateway connection and invokes handle for every
// inbound message create event, translating it into a channel.Envelope
// (spec.md §6's inbound contract). It blocks until ctx is cancelled.
func (c *Client) Listen(ctx context.Context, handle func(channel.Envelope)) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author != nil && m.Author.Bot {
			return
		}
		handle(toEnvelope(m))
	})
	c.session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		handle(channel.Envelope{
			SenderID:         r.UserID,
			IsReaction:       true,
			TargetExternalID: r.MessageID,
			Timestamp:        time.Now().Unix(),
		})
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	defer c.session.Close()

	<-ctx.Done()
	return ctx.Err()
}

func toEnvelope(m *discordgo.MessageCreate) channel.Envelope {
	env := channel.Envelope{
		SenderID:  m.ChannelID,
		Content:   m.Content,
		Timestamp: parseSnowflakeTimestamp(m.ID),
	}
	if m.ReferencedMessage != nil {
		env.QuotedText = m.ReferencedMessage.Content
	}
	for _, a := range m.Attachments {
		env.Attachments = append(env.Attachments, channel.Attachment{Base64: a.URL, ContentType: a.ContentType})
	}
	return env
}

// discordEpochMillis is Discord's snowflake epoch (2015-01-01T00:00:00Z),
// used to recover a message's creation time from its id when no better
// timestamp is available.
const discordEpochMillis = 1420070400000

func parseSnowflakeTimestamp(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return time.Now().Unix()
	}
	millis := (n >> 22) + discordEpochMillis
	return millis / 1000
}
