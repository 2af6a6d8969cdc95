package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/raideye/raideye/internal/channel"
)

const (
	optionClanToken   = "clan_token"
	optionImage       = "image"
	optionMessageLink = "message_link"
	optionDryRun      = "dry_run"
)

// Context-menu entries shown on right-click > Apps for a message.
const (
	contextCommandHydra   = "Process as Hydra"
	contextCommandChimera = "Process as Chimera"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	options := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionClanToken,
			Description: "Clan identifier (e.g. '1', '2')",
		},
		{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        optionImage,
			Description: "Image file to process",
		},
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionMessageLink,
			Description: "Message link containing images",
		},
		{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        optionDryRun,
			Description: "Preview what would be sent without processing",
		},
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "hydra",
			Description: "Process images as Hydra clash records",
			Options:     options,
		},
		{
			Name:        "chimera",
			Description: "Process images as Chimera clash records",
			Options:     options,
		},
		// Context-menu commands must carry an empty description.
		{
			Name: contextCommandHydra,
			Type: discordgo.MessageApplicationCommand,
		},
		{
			Name: contextCommandChimera,
			Type: discordgo.MessageApplicationCommand,
		},
	}
}

func (a *Adapter) registerCommands() error {
	appID := a.session.State.User.ID
	for _, def := range commandDefinitions() {
		created, err := a.session.ApplicationCommandCreate(appID, a.guildID, def)
		if err != nil {
			return err
		}
		a.registered = append(a.registered, created)
	}
	a.logger.Info("slash commands registered", slog.Int("count", len(a.registered)))
	return nil
}

func (a *Adapter) unregisterCommands() {
	if a.session.State.User == nil {
		return
	}
	appID := a.session.State.User.ID
	for _, cmd := range a.registered {
		if err := a.session.ApplicationCommandDelete(appID, a.guildID, cmd.ID); err != nil {
			a.logger.Warn("unregister command failed", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	a.registered = nil
}

func (a *Adapter) handleCommand(ctx context.Context, i *discordgo.InteractionCreate, handler channel.CommandHandler) {
	if handler == nil {
		return
	}
	data := i.ApplicationCommandData()

	if err := a.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		a.logger.Error("defer interaction failed", slog.String("command", data.Name), slog.Any("error", err))
		return
	}

	var cmd channel.Command
	if data.CommandType == discordgo.MessageApplicationCommand {
		cmd = a.parseContextCommand(i, data)
	} else {
		cmd = a.parseCommand(i, data)
	}
	reply, err := handler(ctx, cmd)
	if err != nil {
		a.logger.Error("command failed", slog.String("command", data.Name), slog.Any("error", err))
		reply = "Error processing " + data.Name + ": " + err.Error()
	}

	if _, err := a.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: truncateDiscordText(reply),
	}); err != nil {
		a.logger.Error("send followup failed", slog.String("command", data.Name), slog.Any("error", err))
	}
}

func (a *Adapter) parseCommand(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) channel.Command {
	cmd := channel.Command{
		Name:      data.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	if i.Member != nil && i.Member.User != nil {
		cmd.Sender = channel.Identity{
			SubjectID:   i.Member.User.ID,
			DisplayName: i.Member.User.Username,
		}
	}

	for _, opt := range data.Options {
		switch opt.Name {
		case optionClanToken:
			cmd.ClanToken = opt.StringValue()
		case optionMessageLink:
			cmd.MessageLink = opt.StringValue()
		case optionDryRun:
			cmd.DryRun = opt.BoolValue()
		case optionImage:
			if data.Resolved == nil {
				continue
			}
			attachmentID, _ := opt.Value.(string)
			if att, ok := data.Resolved.Attachments[attachmentID]; ok && att != nil {
				attachment := channel.Attachment{
					Type: channel.AttachmentFile,
					URL:  att.URL,
					Name: att.Filename,
					Size: int64(att.Size),
					Mime: att.ContentType,
				}
				cmd.Attachment = &attachment
			}
		}
	}
	return cmd
}

// parseContextCommand maps a message context-menu invocation onto the
// matching slash-command name, carrying the resolved target message.
func (a *Adapter) parseContextCommand(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) channel.Command {
	cmd := channel.Command{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	switch data.Name {
	case contextCommandHydra:
		cmd.Name = "hydra"
	case contextCommandChimera:
		cmd.Name = "chimera"
	default:
		cmd.Name = data.Name
	}
	if i.Member != nil && i.Member.User != nil {
		cmd.Sender = channel.Identity{
			SubjectID:   i.Member.User.ID,
			DisplayName: i.Member.User.Username,
		}
	}
	if data.Resolved != nil {
		if target, ok := data.Resolved.Messages[data.TargetID]; ok && target != nil {
			msg := a.toInboundMessage(target).Message
			cmd.TargetMessage = &msg
		}
	}
	return cmd
}
