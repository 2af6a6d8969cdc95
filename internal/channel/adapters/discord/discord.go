// Package discord connects the pipeline to Discord via a gateway
// session: inbound message events, slash commands, replies, reactions,
// and message deletion.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/raideye/raideye/internal/channel"
)

// Type identifies this adapter's platform.
const Type = channel.ChannelType("discord")

const inboundDedupTTL = time.Minute
const processingReactionEmoji = "\U0001F504"

// Adapter owns a single bot session.
type Adapter struct {
	logger  *slog.Logger
	session *discordgo.Session
	guildID string

	mu           sync.Mutex
	seenMessages map[string]time.Time
	removers     []func()
	registered   []*discordgo.ApplicationCommand
}

// NewAdapter creates an adapter for the given bot token. The session is
// not opened until Connect.
func NewAdapter(log *slog.Logger, token, guildID string) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	return &Adapter{
		logger:       log.With(slog.String("adapter", "discord")),
		session:      session,
		guildID:      strings.TrimSpace(guildID),
		seenMessages: make(map[string]time.Time),
	}, nil
}

// Connect opens the gateway session, wires the inbound handlers, and
// registers the slash commands.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler, commands channel.CommandHandler) error {
	remove := a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if a.isDuplicateInbound(m.ID) {
			return
		}

		msg := a.toInboundMessage(m.Message)
		if msg.Message.IsEmpty() {
			return
		}

		a.logger.Info("inbound received",
			slog.String("message_id", m.ID),
			slog.String("channel_id", m.ChannelID),
			slog.String("user", m.Author.Username),
			slog.Int("attachments", len(m.Attachments)),
		)

		go func() {
			if err := handler(ctx, msg); err != nil {
				a.logger.Error("handle inbound failed", slog.String("message_id", m.ID), slog.Any("error", err))
			}
		}()
	})
	a.addRemover(remove)

	removeInteractions := a.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		if ctx.Err() != nil {
			return
		}
		go a.handleCommand(ctx, i, commands)
	})
	a.addRemover(removeInteractions)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord open connection: %w", err)
	}

	if err := a.registerCommands(); err != nil {
		a.logger.Error("register slash commands failed", slog.Any("error", err))
	}

	if err := a.session.UpdateWatchStatus(0, "for raids | /hydra"); err != nil {
		a.logger.Warn("set presence failed", slog.Any("error", err))
	}
	return nil
}

// Close unregisters the slash commands and shuts the session down.
func (a *Adapter) Close() error {
	a.unregisterCommands()

	a.mu.Lock()
	removers := a.removers
	a.removers = nil
	a.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
	return a.session.Close()
}

// Reply sends text as a reply to the given message, truncated to the
// platform limit.
func (a *Adapter) Reply(ctx context.Context, channelID, messageID, text string) error {
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("discord target is required")
	}
	_, err := a.session.ChannelMessageSendReply(channelID, truncateDiscordText(text), &discordgo.MessageReference{
		ChannelID: channelID,
		MessageID: messageID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		// Fallback: plain channel send when the source message is gone.
		_, err = a.session.ChannelMessageSend(channelID, truncateDiscordText(text), discordgo.WithContext(ctx))
	}
	return err
}

// React adds an emoji reaction to a message.
func (a *Adapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	return a.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

// Unreact removes the bot's own reaction from a message.
func (a *Adapter) Unreact(ctx context.Context, channelID, messageID, emoji string) error {
	return a.session.MessageReactionRemove(channelID, messageID, emoji, "@me", discordgo.WithContext(ctx))
}

// ProcessingEmoji returns the reaction shown while a batch runs.
func (a *Adapter) ProcessingEmoji() string {
	return processingReactionEmoji
}

// DeleteMessage removes a message. Implements clash.Cleaner.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

// FetchMessage retrieves a message by channel and message ID, for the
// message-link command path.
func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (channel.InboundMessage, error) {
	msg, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.InboundMessage{}, fmt.Errorf("fetch message: %w", err)
	}
	return a.toInboundMessage(msg), nil
}

func (a *Adapter) toInboundMessage(m *discordgo.Message) channel.InboundMessage {
	sender := channel.Identity{}
	if m.Author != nil {
		sender = channel.Identity{
			SubjectID:   m.Author.ID,
			DisplayName: m.Author.Username,
			Bot:         m.Author.Bot,
		}
	}
	return channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:          m.ID,
			Text:        strings.TrimSpace(m.Content),
			Attachments: collectAttachments(m),
			Embeds:      collectEmbeds(m),
		},
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		Sender:     sender,
		ReceivedAt: time.Now().UTC(),
	}
}

func collectAttachments(msg *discordgo.Message) []channel.Attachment {
	if msg == nil || len(msg.Attachments) == 0 {
		return nil
	}
	attachments := make([]channel.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachment := channel.Attachment{
			Type: channel.AttachmentFile,
			URL:  att.URL,
			Name: att.Filename,
			Size: int64(att.Size),
			Mime: att.ContentType,
		}
		if strings.HasPrefix(att.ContentType, "image/") {
			attachment.Type = channel.AttachmentImage
			attachment.Width = att.Width
			attachment.Height = att.Height
		}
		attachments = append(attachments, attachment)
	}
	return attachments
}

func collectEmbeds(msg *discordgo.Message) []channel.Embed {
	if msg == nil || len(msg.Embeds) == 0 {
		return nil
	}
	embeds := make([]channel.Embed, 0, len(msg.Embeds))
	for _, embed := range msg.Embeds {
		out := channel.Embed{}
		if embed.Image != nil {
			out.ImageURL = embed.Image.URL
		}
		if embed.Thumbnail != nil {
			out.ThumbnailURL = embed.Thumbnail.URL
		}
		if out.ImageURL == "" && out.ThumbnailURL == "" {
			continue
		}
		embeds = append(embeds, out)
	}
	return embeds
}

func truncateDiscordText(text string) string {
	const discordMaxLength = 2000
	if len(text) > discordMaxLength {
		text = text[:discordMaxLength-3] + "..."
	}
	return text
}

func (a *Adapter) isDuplicateInbound(messageID string) bool {
	if strings.TrimSpace(messageID) == "" {
		return false
	}

	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}

	if _, ok := a.seenMessages[messageID]; ok {
		return true
	}
	a.seenMessages[messageID] = now
	return false
}

func (a *Adapter) addRemover(remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removers = append(a.removers, remove)
}
