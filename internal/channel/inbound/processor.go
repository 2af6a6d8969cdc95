// Package inbound routes inbound channel messages and slash commands
// into the clash pipeline and sends the resulting summaries back.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/raideye/raideye/internal/channel"
	"github.com/raideye/raideye/internal/clash"
)

// Messenger is the outbound surface the processor needs from an adapter.
type Messenger interface {
	Reply(ctx context.Context, channelID, messageID, text string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	Unreact(ctx context.Context, channelID, messageID, emoji string) error
	ProcessingEmoji() string
	FetchMessage(ctx context.Context, channelID, messageID string) (channel.InboundMessage, error)
}

// Orchestrator runs one message batch. Implemented by clash.Orchestrator.
type Orchestrator interface {
	ProcessMessage(ctx context.Context, msg channel.InboundMessage, opts clash.ProcessOptions) clash.BatchResult
}

// Options configures the processor's message filtering and batch policy.
type Options struct {
	// GuildID and MainChannelID restrict auto-processing; empty values
	// disable the respective filter.
	GuildID       string
	MainChannelID string
	// DryRun previews payloads for every batch instead of injecting.
	DryRun bool
	// DeleteOnSuccess removes the source message after a fully
	// successful auto-processed batch.
	DeleteOnSuccess bool
}

// Processor wires channel events to the batch orchestrator.
type Processor struct {
	orchestrator Orchestrator
	messenger    Messenger
	opts         Options
	logger       *slog.Logger

	// batchMu runs batches one at a time so discovery order and
	// summaries stay deterministic even when events arrive concurrently.
	batchMu sync.Mutex
}

// NewProcessor creates a processor with the given policy.
func NewProcessor(log *slog.Logger, orchestrator Orchestrator, messenger Messenger, opts Options) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		orchestrator: orchestrator,
		messenger:    messenger,
		opts:         opts,
		logger:       log.With(slog.String("component", "inbound")),
	}
}

// HandleMessage auto-processes a message posted in the main channel.
// Messages with no discoverable images are ignored silently.
func (p *Processor) HandleMessage(ctx context.Context, msg channel.InboundMessage) error {
	if msg.Sender.Bot {
		return nil
	}
	if p.opts.GuildID != "" && msg.GuildID != p.opts.GuildID {
		return nil
	}
	if p.opts.MainChannelID != "" && msg.ChannelID != p.opts.MainChannelID {
		return nil
	}

	emoji := p.messenger.ProcessingEmoji()
	reacted := false
	if err := p.messenger.React(ctx, msg.ChannelID, msg.Message.ID, emoji); err != nil {
		p.logger.Warn("processing reaction failed", slog.Any("error", err))
	} else {
		reacted = true
	}

	p.batchMu.Lock()
	result := p.orchestrator.ProcessMessage(ctx, msg, clash.ProcessOptions{
		DryRun:       p.opts.DryRun,
		DeleteSource: p.opts.DeleteOnSuccess,
	})
	p.batchMu.Unlock()

	if reacted && !result.CleanupRan {
		if err := p.messenger.Unreact(ctx, msg.ChannelID, msg.Message.ID, emoji); err != nil {
			p.logger.Warn("remove processing reaction failed", slog.Any("error", err))
		}
	}

	if result.Total == 0 {
		return nil
	}
	return p.messenger.Reply(ctx, msg.ChannelID, msg.Message.ID, result.Summary())
}

// HandleCommand processes a /hydra or /chimera invocation and returns
// the reply text.
func (p *Processor) HandleCommand(ctx context.Context, cmd channel.Command) (string, error) {
	forced := clash.ClashType(cmd.Name)
	if !forced.Known() {
		return "", fmt.Errorf("unsupported command %q", cmd.Name)
	}

	msg, err := p.commandMessage(ctx, cmd)
	if err != nil {
		return err.Error(), nil
	}

	p.batchMu.Lock()
	result := p.orchestrator.ProcessMessage(ctx, msg, clash.ProcessOptions{
		ForcedType: forced,
		ClanToken:  cmd.ClanToken,
		DryRun:     cmd.DryRun || p.opts.DryRun,
	})
	p.batchMu.Unlock()
	return result.Summary(), nil
}

// commandMessage builds the message to process from the command input:
// a context-menu target first, then a direct attachment, then a
// message link.
func (p *Processor) commandMessage(ctx context.Context, cmd channel.Command) (channel.InboundMessage, error) {
	if cmd.TargetMessage != nil {
		return channel.InboundMessage{
			Channel:   channel.ChannelType("discord"),
			GuildID:   cmd.GuildID,
			ChannelID: cmd.ChannelID,
			Sender:    cmd.Sender,
			Message:   *cmd.TargetMessage,
		}, nil
	}

	if cmd.Attachment != nil {
		return channel.InboundMessage{
			Channel:   channel.ChannelType("discord"),
			GuildID:   cmd.GuildID,
			ChannelID: cmd.ChannelID,
			Sender:    cmd.Sender,
			Message: channel.Message{
				Attachments: []channel.Attachment{*cmd.Attachment},
			},
		}, nil
	}

	if strings.TrimSpace(cmd.MessageLink) != "" {
		channelID, messageID, err := ParseMessageLink(cmd.MessageLink)
		if err != nil {
			return channel.InboundMessage{}, err
		}
		msg, err := p.messenger.FetchMessage(ctx, channelID, messageID)
		if err != nil {
			return channel.InboundMessage{}, fmt.Errorf("failed to fetch message: %w", err)
		}
		return msg, nil
	}

	return channel.InboundMessage{}, fmt.Errorf("please provide either an image attachment or a message link")
}

// ParseMessageLink extracts channel and message IDs from a message URL
// of the form .../channels/{guild}/{channel}/{message}.
func ParseMessageLink(link string) (channelID, messageID string, err error) {
	parts := strings.Split(strings.TrimRight(strings.TrimSpace(link), "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid message link %q", link)
	}
	channelID = parts[len(parts)-2]
	messageID = parts[len(parts)-1]
	if channelID == "" || messageID == "" {
		return "", "", fmt.Errorf("invalid message link %q", link)
	}
	return channelID, messageID, nil
}
