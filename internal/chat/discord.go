package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Discord implements Client on top of a discordgo session. The session must
// have ShouldRetryOnRateLimit disabled so rate limits surface here and go
// through Retry.
type Discord struct {
	session *discordgo.Session
	retry   RetryConfig
	logger  zerolog.Logger
}

// NewDiscord wraps an open session.
func NewDiscord(session *discordgo.Session, retry RetryConfig, logger zerolog.Logger) *Discord {
	session.ShouldRetryOnRateLimit = false
	return &Discord{
		session: session,
		retry:   retry,
		logger:  logger.With().Str("component", "chat").Logger(),
	}
}

// SelfID returns the bot user's ID, or "" before the session is ready.
func (d *Discord) SelfID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// SendMessage posts a message with optional select menus.
func (d *Discord) SendMessage(ctx context.Context, channelID, content string, menus []SelectMenu) (*Message, error) {
	var sent *discordgo.Message
	err := d.do(ctx, "send", func(ctx context.Context) error {
		m, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         content,
			Components:      toComponents(menus),
			AllowedMentions: allowedMentions(),
		}, discordgo.WithContext(ctx))
		sent = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromDiscordMessage(sent), nil
}

// EditMessage replaces the content and menus of one of the bot's messages.
func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string, menus []SelectMenu) error {
	components := toComponents(menus)
	return d.do(ctx, "edit", func(ctx context.Context) error {
		_, err := d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:              messageID,
			Channel:         channelID,
			Content:         &content,
			Components:      &components,
			AllowedMentions: allowedMentions(),
		}, discordgo.WithContext(ctx))
		return err
	})
}

// DeleteMessage deletes a message.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return d.do(ctx, "delete", func(ctx context.Context) error {
		return d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	})
}

// FetchRecentMessages returns the newest messages of a channel, newest first.
func (d *Discord) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit > 100 {
		limit = 100
	}
	var fetched []*discordgo.Message
	err := d.do(ctx, "fetch", func(ctx context.Context) error {
		ms, err := d.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
		fetched = ms
		return err
	})
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(fetched))
	for _, m := range fetched {
		messages = append(messages, *fromDiscordMessage(m))
	}
	return messages, nil
}

// HasRole reports whether a member holds a role.
func (d *Discord) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	var member *discordgo.Member
	err := d.do(ctx, "member", func(ctx context.Context) error {
		m, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		member = m
		return err
	})
	if err != nil {
		return false, err
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

// AddRole gives a member a role.
func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.do(ctx, "role_add", func(ctx context.Context) error {
		return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
	})
}

// RemoveRole takes a role from a member.
func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.do(ctx, "role_remove", func(ctx context.Context) error {
		return d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
	})
}

// MembersWithRole pages through the guild member list.
func (d *Discord) MembersWithRole(ctx context.Context, guildID, roleID string) ([]string, error) {
	const pageSize = 1000

	var (
		users []string
		after string
	)
	for {
		var page []*discordgo.Member
		err := d.do(ctx, "members", func(ctx context.Context) error {
			ms, err := d.session.GuildMembers(guildID, after, pageSize, discordgo.WithContext(ctx))
			page = ms
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			for _, r := range m.Roles {
				if r == roleID {
					users = append(users, m.User.ID)
					break
				}
			}
		}
		if len(page) < pageSize {
			return users, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Discord) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := Retry(ctx, d.retry, func(ctx context.Context) error {
		attempt++
		err := classify(fn(ctx))
		if err != nil && IsRetryable(err) {
			d.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("retrying platform call")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// classify maps discordgo errors onto the package's error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) {
		retryAfter := time.Second
		if rle.RateLimit != nil && rle.TooManyRequests != nil {
			retryAfter = rle.TooManyRequests.RetryAfter
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownRole:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}

	if rest.Response == nil {
		return err
	}
	switch status := rest.Response.StatusCode; {
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: time.Second}
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func allowedMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{
			discordgo.AllowedMentionTypeUsers,
			discordgo.AllowedMentionTypeRoles,
			discordgo.AllowedMentionTypeEveryone,
		},
	}
}

func toComponents(menus []SelectMenu) []discordgo.MessageComponent {
	components := make([]discordgo.MessageComponent, 0, len(menus))
	for _, menu := range menus {
		options := make([]discordgo.SelectMenuOption, 0, len(menu.Options))
		for _, o := range menu.Options {
			options = append(options, discordgo.SelectMenuOption{
				Label:       o.Label,
				Value:       o.Value,
				Description: o.Description,
			})
		}
		components = append(components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    menu.CustomID,
					Placeholder: menu.Placeholder,
					Options:     options,
				},
			},
		})
	}
	return components
}

func fromDiscordMessage(m *discordgo.Message) *Message {
	msg := &Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	for _, c := range m.Components {
		var row discordgo.ActionsRow
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			row = *v
		case discordgo.ActionsRow:
			row = v
		default:
			continue
		}
		for _, rc := range row.Components {
			var sm discordgo.SelectMenu
			switch v := rc.(type) {
			case *discordgo.SelectMenu:
				sm = *v
			case discordgo.SelectMenu:
				sm = v
			default:
				continue
			}
			menu := SelectMenu{CustomID: sm.CustomID, Placeholder: sm.Placeholder}
			for _, o := range sm.Options {
				menu.Options = append(menu.Options, SelectOption{
					Label:       o.Label,
					Value:       o.Value,
					Description: o.Description,
				})
			}
			msg.Menus = append(msg.Menus, menu)
		}
	}
	return msg
}

var _ Client = (*Discord)(nil)
