// Package relay talks to the outbound transport relay over JSON/HTTP. The
// relay owns the real gateway connections; fleetcore only asks it to send,
// delete and broadcast.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/fleetcore/internal/platform"
)

// SendMessageRequest is the body of a channel message post.
type SendMessageRequest struct {
	Embed platform.Embed `json:"embed"`
}

// SendMessageResponse carries the id the relay assigned to a sent message.
type SendMessageResponse struct {
	ID uint64 `json:"id,string"`
}

// PresenceRequest is the body of a global presence update.
type PresenceRequest struct {
	Activity   string `json:"activity"`
	GuildCount uint64 `json:"guild_count"`
}

// RequestOption mutates an outgoing request before it is sent.
type RequestOption func(*http.Request)

// WithHeader sets a header on the request. Empty values are skipped.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		if value != "" {
			r.Header.Set(key, value)
		}
	}
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON to url and decodes the response into out when
// out is non-nil. A status of 300 or above is an error.
func PostJSON(ctx context.Context, url string, body any, out any, opts ...RequestOption) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Client implements platform.Messenger and platform.PresenceManager against a
// relay base URL such as "http://127.0.0.1:9000".
type Client struct {
	baseURL string
	token   string
}

// NewClient creates a relay client. token is sent as the Authorization header
// when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// SendEmbed posts embed to channelID and returns the new message id.
func (c *Client) SendEmbed(ctx context.Context, channelID uint64, embed platform.Embed) (uint64, error) {
	var out SendMessageResponse
	url := fmt.Sprintf("%s/channels/%d/messages", c.baseURL, channelID)
	if err := PostJSON(ctx, url, SendMessageRequest{Embed: embed}, &out, WithHeader("Authorization", c.token)); err != nil {
		return 0, fmt.Errorf("send to channel %d: %w", channelID, err)
	}
	return out.ID, nil
}

// DeleteMessage removes messageID from channelID.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	url := fmt.Sprintf("%s/channels/%d/messages/%d/delete", c.baseURL, channelID, messageID)
	if err := PostJSON(ctx, url, struct{}{}, nil, WithHeader("Authorization", c.token)); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

// SetGlobalPresence asks the relay to update presence on every shard.
func (c *Client) SetGlobalPresence(ctx context.Context, guildCount uint64) error {
	req := PresenceRequest{
		Activity:   fmt.Sprintf("in %d servers", guildCount),
		GuildCount: guildCount,
	}
	if err := PostJSON(ctx, c.baseURL+"/presence", req, nil, WithHeader("Authorization", c.token)); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}
