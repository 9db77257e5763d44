// Package signal implements channel.Sender and an inbound envelope
// listener against signal-cli-rest-api: REST for outbound send/typing,
// a WebSocket for inbound receive. Grounded on spec.md §6's channel
// contract (no Signal REST client exists anywhere in the retrieved
// pack) and on
// codeready-toolchain-tarsy/test/e2e/ws_client.go's coder/websocket
// dial-and-readLoop shape for the inbound side, the only client-side
// websocket.Dial usage in the pack (its own uses are all server-side
// websocket.Accept).
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/channel"
	"github.com/jaredlockhart/penny/internal/config"
)

// Client is a signal-cli-rest-api-backed channel.Sender.
type Client struct {
	cfg    config.SignalConfig
	http   *http.Client
	log    zerolog.Logger
	maxRetries int
	retryBase  time.Duration
}

// New constructs a Client.
func New(cfg config.SignalConfig, timings config.Timings, thresholds config.Thresholds, log zerolog.Logger) *Client {
	retries := thresholds.LLMMaxRetries
	if retries <= 0 {
		retries = 3
	}
	base := timings.LLMRetryBaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("channel", "signal").Logger(),
		maxRetries: retries,
		retryBase:  base,
	}
}

var _ channel.Sender = (*Client)(nil)

type sendRequest struct {
	Message          string   `json:"message"`
	Number           string   `json:"number"`
	Recipients       []string `json:"recipients"`
	Base64Attachments []string `json:"base64_attachments,omitempty"`
	QuoteTimestamp   int64    `json:"quote_timestamp,omitempty"`
	QuoteAuthor      string   `json:"quote_author,omitempty"`
}

type sendResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// SendMessage posts an outbound message through signal-cli-rest-api's v2
// send endpoint (spec.md §6 "send_message(recipient, text, attachments,
// quote_message) -> external_id | null"). Empty text is rejected unless
// attachments are present.
func (c *Client) SendMessage(ctx context.Context, recipient, text string, attachments []channel.Attachment, quoteExternalID string) (string, error) {
	if text == "" && len(attachments) == 0 {
		return "", fmt.Errorf("signal: send_message: empty text with no attachments")
	}

	req := sendRequest{
		Message:    text,
		Number:     c.cfg.AccountID,
		Recipients: []string{recipient},
	}
	for _, a := range attachments {
		req.Base64Attachments = append(req.Base64Attachments, dataURL(a))
	}
	if quoteExternalID != "" {
		var ts int64
		if _, err := fmt.Sscanf(quoteExternalID, "%d", &ts); err == nil {
			req.QuoteTimestamp = ts
			req.QuoteAuthor = recipient
		}
	}

	var resp sendResponse
	if err := c.postJSON(ctx, "/v2/send", req, &resp); err != nil {
		return "", err
	}
	if resp.Timestamp == 0 {
		return "", nil
	}
	return fmt.Sprintf("%d", resp.Timestamp), nil
}

// SendTyping toggles the typing indicator (fire-and-forget per spec.md
// §5 "typing indicators are fire-and-forget").
func (c *Client) SendTyping(ctx context.Context, recipient string, on bool) error {
	method := http.MethodPut
	if !on {
		method = http.MethodDelete
	}
	path := fmt.Sprintf("/v1/typing-indicator/%s", c.cfg.AccountID)
	body := map[string]string{"recipient": recipient}
	return c.request(ctx, method, path, body, nil)
}

// SendStatusMessage sends a message that is not logged by the caller, used
// for startup pings (spec.md §6).
func (c *Client) SendStatusMessage(ctx context.Context, recipient, text string) error {
	_, err := c.SendMessage(ctx, recipient, text, nil, "")
	return err
}

func dataURL(a channel.Attachment) string {
	if a.ContentType == "" {
		return a.Base64
	}
	return fmt.Sprintf("data:%s;base64,%s", a.ContentType, a.Base64)
}

// postJSON sends a JSON POST with bounded exponential-backoff retry on
// transient transport failures (spec.md §6 "Transient transport errors...
// are retried with exponential backoff, up to a configured max").
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	return c.request(ctx, http.MethodPost, path, in, out)
}

func (c *Client) request(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("signal: marshal request: %w", err)
		}
	}

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

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.RESTBaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("signal: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("signal request failed, retrying")
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("signal: %s: status %d", path, resp.StatusCode)
			c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Int("attempt", attempt).Msg("signal transient error, retrying")
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("signal: %s: status %d: %s", path, resp.StatusCode, string(body))
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("signal: decode response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("signal: %s: exhausted retries: %w", path, lastErr)
}

// wireEnvelope mirrors signal-cli-rest-api's receive JSON shape closely
// enough to extract the fields channel.Envelope needs.
type wireEnvelope struct {
	Envelope struct {
		Source    string `json:"source"`
		Timestamp int64  `json:"timestamp"`
		DataMessage *struct {
			Message     string `json:"message"`
			Timestamp   int64  `json:"timestamp"`
			Attachments []struct {
				ID          string `json:"id"`
				ContentType string `json:"contentType"`
			} `json:"attachments"`
			Quote *struct {
				Text string `json:"text"`
			} `json:"quote"`
			Reaction *struct {
				Emoji       string `json:"emoji"`
				TargetTimestamp int64 `json:"targetSentTimestamp"`
			} `json:"reaction"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

// Listen dials the inbound receive WebSocket and invokes handle for every
// envelope, reconnecting with the configured delay on loss (spec.md §5
// "Channel websocket receive uses a 30s timeout and reconnects with a 5s
// delay on loss").
func (c *Client) Listen(ctx context.Context, timings config.Timings, handle func(channel.Envelope)) error {
	receiveTimeout := timings.WSReceiveTimeout
	if receiveTimeout <= 0 {
		receiveTimeout = 30 * time.Second
	}
	reconnectDelay := timings.WSReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.receiveLoop(ctx, receiveTimeout, handle); err != nil {
			c.log.Warn().Err(err).Msg("signal websocket lost, reconnecting")
		}
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) receiveLoop(ctx context.Context, receiveTimeout time.Duration, handle func(channel.Envelope)) error {
	url := fmt.Sprintf("%s/v1/receive/%s", c.cfg.WSBaseURL, c.cfg.AccountID)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("signal: dial receive websocket: %w", err)
	}
	defer conn.CloseNow()

	for {
		readCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("signal: read: %w", err)
		}

		var wire wireEnvelope
		if err := json.Unmarshal(data, &wire); err != nil {
			c.log.Warn().Err(err).Msg("signal: malformed envelope, skipping")
			continue
		}
		env, ok := toEnvelope(wire)
		if !ok {
			continue
		}
		handle(env)
	}
}

func toEnvelope(wire wireEnvelope) (channel.Envelope, bool) {
	dm := wire.Envelope.DataMessage
	if dm == nil {
		return channel.Envelope{}, false
	}

	env := channel.Envelope{
		SenderID:  wire.Envelope.Source,
		Content:   dm.Message,
		Timestamp: dm.Timestamp,
	}
	if dm.Quote != nil {
		env.QuotedText = dm.Quote.Text
	}
	for _, a := range dm.Attachments {
		env.Attachments = append(env.Attachments, channel.Attachment{Base64: a.ID, ContentType: a.ContentType})
	}
	if dm.Reaction != nil {
		env.IsReaction = true
		env.TargetExternalID = fmt.Sprintf("%d", dm.Reaction.TargetTimestamp)
	}
	return env, true
}
