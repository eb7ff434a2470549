package quantumbank

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleLeaderboardCommand shows the richest accounts of the branch
// the command was run in.
func (qb *QuantumBank) handleLeaderboardCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	i := handler.GetInteraction()
	branchID := i.GuildID
	if branchID == "" && account != nil {
		branchID = account.BranchID
	}
	if branchID == "" {
		qb.editResponse(ctx, handler, msgBranchNoGuild)
		return
	}

	entries, err := qb.accounts.Leaderboard(
		ctx, branchID, qb.config.Bank.LeaderboardLimit,
	)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx, "error loading leaderboard", tint.Err(err),
		)
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}
	if len(entries) == 0 {
		qb.editResponse(ctx, handler, msgLeaderboardEmpty)
		return
	}

	medals := []string{"🥇", "🥈", "🥉"}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		rank := fmt.Sprintf("`#%d`", entry.Rank)
		if entry.Rank <= len(medals) {
			rank = medals[entry.Rank-1]
		}
		lines = append(
			lines,
			fmt.Sprintf(
				"%s **%s** — %s",
				rank, entry.Username, formatMoney(entry.Balance),
			),
		)
	}

	embeds := []*discordgo.MessageEmbed{
		{
			Title:       "🏆 Branch Leaderboard",
			Description: strings.Join(lines, "\n"),
		},
	}
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}
