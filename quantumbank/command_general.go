package quantumbank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handlePingCommand replies with the gateway heartbeat latency.
func (qb *QuantumBank) handlePingCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	latency := qb.discord.session.HeartbeatLatency()
	qb.editResponse(
		ctx, handler,
		fmt.Sprintf("🏓 Pong! Gateway latency: %s", latency.Round(time.Millisecond)),
	)
}

// handleUserInfoCommand shows details about the given user (or the
// caller), including their account if they have one.
func (qb *QuantumBank) handleUserInfoCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	i := handler.GetInteraction()
	target := getDiscordUser(i)
	options := discordInteractionOptions(i)
	if opt, exists := options[grantCommandOptionUser]; exists {
		target = opt.UserValue(nil)
		account, _ = qb.accounts.Get(ctx, target.ID)
	}
	if target == nil {
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Username", Value: target.Username, Inline: true},
		{Name: "ID", Value: target.ID, Inline: true},
	}
	if target.GlobalName != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: "Display Name", Value: target.GlobalName, Inline: true,
			},
		)
	}
	if account != nil {
		fields = append(
			fields,
			&discordgo.MessageEmbedField{
				Name: "Account", Value: "✅ Open", Inline: true,
			},
			&discordgo.MessageEmbedField{
				Name: "Branch", Value: account.BranchName, Inline: true,
			},
		)
	} else {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: "Account", Value: "None", Inline: true,
			},
		)
	}

	embeds := []*discordgo.MessageEmbed{
		{
			Title:  "👤 User Info",
			Fields: fields,
			Thumbnail: &discordgo.MessageEmbedThumbnail{
				URL: target.AvatarURL(""),
			},
		},
	}
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}

// handleServerInfoCommand shows details about the guild the command
// was run in.
func (qb *QuantumBank) handleServerInfoCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	if i.GuildID == "" {
		qb.editResponse(ctx, handler, "Run this in a server.")
		return
	}
	guild, err := qb.discord.session.Guild(i.GuildID)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error loading guild", tint.Err(err))
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}

	embeds := []*discordgo.MessageEmbed{
		{
			Title: "🏰 " + guild.Name,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "ID", Value: guild.ID, Inline: true},
				{Name: "Owner", Value: guild.OwnerID, Inline: true},
				{
					Name:   "Members",
					Value:  fmt.Sprintf("%d", guild.MemberCount),
					Inline: true,
				},
			},
		},
	}
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}

// handleBotInfoCommand shows build and uptime info.
func (qb *QuantumBank) handleBotInfoCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: Version, Inline: true},
		{
			Name:   "Uptime",
			Value:  time.Since(qb.startedAt).Round(time.Second).String(),
			Inline: true,
		},
	}
	if CommitSHA != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: "Commit", Value: CommitSHA, Inline: true,
			},
		)
	}
	if BuildTime != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: "Built", Value: BuildTime, Inline: true,
			},
		)
	}
	embeds := []*discordgo.MessageEmbed{
		{
			Title:       "🤖 Quantum Bank",
			Description: "A role-play banking bot. Not legal tender.",
			Fields:      fields,
		},
	}
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}

// helpTopics maps the help menu values to their descriptions.
var helpTopics = map[string]string{
	"accounts": "**Accounts**\n" +
		"`/create_account` — open an account (identity check via DM)\n" +
		"`/balance` — check your balance\n" +
		"`/passbook` — your recent transactions\n" +
		"`/transfer_address` — show or regenerate your transfer address\n" +
		"`/change_branch` — move your account to this server",
	"payments": "**Payments**\n" +
		"`/pay` — send money to a transfer address, with confirmation\n" +
		"`/leaderboard` — richest accounts at this branch",
	"fun": "**Fun**\n" +
		"`/random_chat` — anonymous chat with a stranger, relayed via DM\n" +
		"`/anime` — search for an anime",
	"misc": "**Misc**\n" +
		"`/ping`, `/userinfo`, `/serverinfo`, `/botinfo`",
}

// handleHelpCommand shows a select menu of help topics.
func (qb *QuantumBank) handleHelpCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	content := "Pick a topic:"
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID: fmt.Sprintf(
						customIDFormat, customIDHelpMenu, "topics",
					),
					Placeholder: "Help topics",
					Options: []discordgo.SelectMenuOption{
						{Label: "Accounts", Value: "accounts", Emoji: &discordgo.ComponentEmoji{Name: "🏦"}},
						{Label: "Payments", Value: "payments", Emoji: &discordgo.ComponentEmoji{Name: "💸"}},
						{Label: "Fun", Value: "fun", Emoji: &discordgo.ComponentEmoji{Name: "🎭"}},
						{Label: "Misc", Value: "misc", Emoji: &discordgo.ComponentEmoji{Name: "🔧"}},
					},
				},
			},
		},
	}
	_, _ = handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	)
}

// handleHelpMenuComponent replaces the help message with the selected
// topic, keeping the menu so the user can browse.
func (qb *QuantumBank) handleHelpMenuComponent(
	ctx context.Context,
	handler InteractionHandler,
	values []string,
) {
	if len(values) == 0 {
		_ = handler.Respond(ctx, componentUpdate("Pick a topic:"))
		return
	}
	topics := make([]string, 0, len(values))
	for _, value := range values {
		if topic, exists := helpTopics[value]; exists {
			topics = append(topics, topic)
		}
	}
	content := strings.Join(topics, "\n\n")
	if content == "" {
		content = "Pick a topic:"
	}
	i := handler.GetInteraction()
	components := i.Message.Components
	_ = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    content,
				Components: components,
			},
		},
	)
}
