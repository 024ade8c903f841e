// Package discord connects tenants (guilds) to the engine: membership checks,
// destination channel resolution and message delivery over discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
)

// api is the subset of *discordgo.Session used by Client.
type api interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Channels names the category and channels soulwatch posts into.
type Channels struct {
	Category  string
	Status    string
	Items     string
	Changelog string
}

// Config holds the Discord client settings.
type Config struct {
	Channels       Channels
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client implements the tenant directory and the message sender.
type Client struct {
	api            api
	guilds         func() []string
	channels       Channels
	maxRetries     int
	retryDelayBase time.Duration
}

// NewSession creates a bot session with the intents soulwatch needs.
func NewSession(botToken string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	return session, nil
}

// New creates a Client over an opened session. Tenants are the guilds in the
// session state.
func New(session *discordgo.Session, cfg Config) *Client {
	return newClient(session, stateGuilds(session.State), cfg)
}

func newClient(a api, guilds func() []string, cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		api:            a,
		guilds:         guilds,
		channels:       cfg.Channels,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

func stateGuilds(state *discordgo.State) func() []string {
	return func() []string {
		state.RLock()
		defer state.RUnlock()
		ids := make([]string, 0, len(state.Guilds))
		for _, g := range state.Guilds {
			ids = append(ids, g.ID)
		}
		return ids
	}
}

// Tenants returns every guild the bot belongs to.
func (c *Client) Tenants(_ context.Context) ([]string, error) {
	return c.guilds(), nil
}

// Reachable reports apperr.KindTenantUnreachable when the bot can no longer
// see the guild; other failures are transient.
func (c *Client) Reachable(ctx context.Context, guildID string) error {
	const op = "guild lookup"
	_, err := c.api.Guild(guildID, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return apperr.Wrap(apperr.KindTenantUnreachable, op, "guild "+guildID+" is no longer accessible", err)
		}
	}
	return apperr.Transient(op, err)
}

// Destination resolves the channel ID for ch inside the configured category.
func (c *Client) Destination(ctx context.Context, guildID string, ch models.Channel) (string, error) {
	const op = "destination"
	name, err := c.channelName(ch)
	if err != nil {
		return "", err
	}
	channels, err := c.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", apperr.Transient(op, err)
	}
	id, ok := findChannel(channels, c.channels.Category, name)
	if !ok {
		return "", apperr.New(apperr.KindNotFound, op,
			fmt.Sprintf("guild %s has no %q channel in category %q", guildID, name, c.channels.Category))
	}
	return id, nil
}

func (c *Client) channelName(ch models.Channel) (string, error) {
	switch ch {
	case models.ChannelStatus:
		return c.channels.Status, nil
	case models.ChannelItems:
		return c.channels.Items, nil
	case models.ChannelChangelog:
		return c.channels.Changelog, nil
	default:
		return "", apperr.Validation("destination", "unknown channel "+string(ch))
	}
}

// findChannel returns the text channel named name under the category named category.
func findChannel(channels []*discordgo.Channel, category, name string) (string, bool) {
	var parentID string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == category {
			parentID = ch.ID
			break
		}
	}
	if parentID == "" {
		return "", false
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.ParentID == parentID && ch.Name == name {
			return ch.ID, true
		}
	}
	return "", false
}

// SendTransition posts the embed for t to channelID.
func (c *Client) SendTransition(ctx context.Context, channelID string, t models.Transition) error {
	embed, err := TransitionEmbed(t)
	if err != nil {
		return err
	}
	return c.send(ctx, channelID, embed)
}

// SendChangelog posts a changelog entry to channelID.
func (c *Client) SendChangelog(ctx context.Context, channelID, version, body string) error {
	return c.send(ctx, channelID, ChangelogEmbed(version, body))
}

// send posts an embed with linear-backoff retry.
func (c *Client) send(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}
		_, err := c.api.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent(err) {
			break
		}
		logger.Debug("Send to channel %s failed (attempt %d/%d): %v", channelID, i+1, c.maxRetries, err)
	}
	return fmt.Errorf("failed to send to channel %s: %w", channelID, lastErr)
}

// permanent reports 4xx responses other than 429, which a retry cannot fix.
func permanent(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	code := restErr.Response.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
