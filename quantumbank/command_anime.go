package quantumbank

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const msgAnimeNotFound = "No anime matched that title. Try another spelling?"

// handleAnimeCommand searches Kitsu for the given title and replies
// with the best match.
func (qb *QuantumBank) handleAnimeCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	options := discordInteractionOptions(handler.GetInteraction())
	titleOpt := options[animeCommandOptionTitle]
	if titleOpt == nil {
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}

	results, err := qb.anime.Search(ctx, titleOpt.StringValue())
	switch {
	case errors.Is(err, ErrAnimeNotFound):
		qb.editResponse(ctx, handler, msgAnimeNotFound)
		return
	case err != nil:
		handler.Logger().ErrorContext(
			ctx, "anime search failed", tint.Err(err),
		)
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}

	best := results[0]
	fields := []*discordgo.MessageEmbedField{
		{Name: "Status", Value: best.Status, Inline: true},
	}
	if best.EpisodeCount > 0 {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "Episodes",
				Value:  fmt.Sprintf("%d", best.EpisodeCount),
				Inline: true,
			},
		)
	}
	if best.AverageRating != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: "Rating", Value: best.AverageRating, Inline: true,
			},
		)
	}
	if best.StartDate != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: "Started", Value: best.StartDate, Inline: true,
			},
		)
	}

	embed := &discordgo.MessageEmbed{
		Title:       best.Title,
		URL:         best.URL,
		Description: truncate(best.Synopsis, 1000),
		Fields:      fields,
	}
	if best.PosterURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: best.PosterURL}
	}
	embeds := []*discordgo.MessageEmbed{embed}
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}
