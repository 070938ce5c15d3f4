package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultAPIBaseURL = "https://discord.com/api/v10"
	maxErrorBody      = 1 << 14
	userAgent         = "DiscordBot (validatorgate, 1.0)"
)

// RESTConfig configures the REST client.
type RESTConfig struct {
	BaseURL           string
	Token             string
	ApplicationID     string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client is a rate-limited client for the platform REST API.
type Client struct {
	baseURL string
	token   string
	appID   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient constructs a REST client.
func NewClient(cfg RESTConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("platform: token required")
	}
	if strings.TrimSpace(cfg.ApplicationID) == "" {
		return nil, errors.New("platform: application id required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultAPIBaseURL
	}
	perSecond := cfg.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = 40
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		appID:   strings.TrimSpace(cfg.ApplicationID),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

// ApplicationID returns the application the client acts for.
func (c *Client) ApplicationID() string { return c.appID }

// RespondInteraction sends the initial interaction callback.
func (c *Client) RespondInteraction(ctx context.Context, interactionID, token string, resp InteractionResponse) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", url.PathEscape(interactionID), url.PathEscape(token))
	return c.do(ctx, http.MethodPost, path, resp, nil, false)
}

// EditOriginalResponse replaces the content of the original interaction reply.
func (c *Client) EditOriginalResponse(ctx context.Context, token string, msg MessageContent) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", url.PathEscape(c.appID), url.PathEscape(token))
	return c.do(ctx, http.MethodPatch, path, msg, nil, false)
}

// Guild fetches a guild with its roles.
func (c *Client) Guild(ctx context.Context, guildID string) (Guild, error) {
	var guild Guild
	err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID), nil, &guild, true)
	return guild, err
}

// GuildRoles lists the roles of a guild.
func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/roles", nil, &roles, true)
	return roles, err
}

// GuildMember fetches a member of a guild.
func (c *Client) GuildMember(ctx context.Context, guildID, userID string) (Member, error) {
	var member Member
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(userID))
	err := c.do(ctx, http.MethodGet, path, nil, &member, true)
	return member, err
}

// AddMemberRole grants roleID to userID.
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.do(ctx, http.MethodPut, memberRolePath(guildID, userID, roleID), nil, nil, true)
}

// RemoveMemberRole revokes roleID from userID.
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.do(ctx, http.MethodDelete, memberRolePath(guildID, userID, roleID), nil, nil, true)
}

// SendDirectMessage opens a DM channel with userID and posts msg to it.
func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg MessageContent) (Message, error) {
	var channel struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", map[string]string{"recipient_id": userID}, &channel, true); err != nil {
		return Message{}, fmt.Errorf("open dm channel: %w", err)
	}
	return c.SendChannelMessage(ctx, channel.ID, msg)
}

// SendChannelMessage posts msg to channelID.
func (c *Client) SendChannelMessage(ctx context.Context, channelID string, msg MessageContent) (Message, error) {
	var out Message
	err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", msg, &out, true)
	return out, err
}

// DeleteMessage removes a channel message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageID))
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

// BulkOverwriteGuildCommands replaces the application's guild commands with cmds.
func (c *Client) BulkOverwriteGuildCommands(ctx context.Context, guildID string, cmds []ApplicationCommand) ([]ApplicationCommand, error) {
	var out []ApplicationCommand
	path := fmt.Sprintf("/applications/%s/guilds/%s/commands", url.PathEscape(c.appID), url.PathEscape(guildID))
	err := c.do(ctx, http.MethodPut, path, cmds, &out, true)
	return out, err
}

func memberRolePath(guildID, userID, roleID string) string {
	return fmt.Sprintf("/guilds/%s/members/%s/roles/%s", url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(roleID))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("platform: rate limit wait: %w", err)
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("platform: request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bot "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, apiErr)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: decode response: %w", err)
	}
	return nil
}
