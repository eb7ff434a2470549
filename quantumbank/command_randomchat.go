package quantumbank

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	msgChatSearching = "🔎 Looking for a chat partner... " +
		"I'll DM you when someone turns up."
	msgChatAlreadyPaired = "You're already waiting or chatting! " +
		"End it first with `/random_chat action:end`."
	msgChatNoPartner = "Nobody turned up this time. Try again later!"
	msgChatMatched   = "🎭 You've been matched! Everything you DM me is " +
		"relayed anonymously to your partner. `/random_chat action:end` to stop."
	msgChatEnded       = "Chat ended. Thanks for keeping it friendly!"
	msgChatPeerEnded   = "🎭 Your partner ended the chat."
	msgChatNotInChat   = "You're not in a chat right now."
	msgChatDMWentWrong = "I couldn't DM you! Check your privacy settings and try again."
)

// handleRandomChatCommand starts or ends an anonymous chat session.
// Starting blocks on the pairing queue until a partner arrives or the
// wait window lapses, so it runs on the account worker.
func (qb *QuantumBank) handleRandomChatCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	account *Account,
) {
	if account == nil {
		qb.editResponse(ctx, handler, msgNoAccount)
		return
	}

	options := discordInteractionOptions(handler.GetInteraction())
	action := randomChatActionStart
	if opt, exists := options[randomChatOptionAction]; exists {
		action = opt.StringValue()
	}

	switch action {
	case randomChatActionEnd:
		qb.endRandomChat(ctx, handler, user)
	default:
		qb.startRandomChat(ctx, handler, user)
	}
}

func (qb *QuantumBank) startRandomChat(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
) {
	dmChannel, err := qb.discord.session.UserChannelCreate(user.ID)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx, "error opening dm channel", tint.Err(err),
		)
		qb.editResponse(ctx, handler, msgChatDMWentWrong)
		return
	}

	qb.editResponse(ctx, handler, msgChatSearching)

	_, err = qb.pairing.Join(ctx, user.ID, dmChannel.ID)
	switch {
	case errors.Is(err, ErrAlreadyPaired):
		qb.editResponse(ctx, handler, msgChatAlreadyPaired)
		return
	case errors.Is(err, ErrPairingTimeout):
		qb.dmSend(ctx, dmChannel.ID, msgChatNoPartner)
		return
	case errors.Is(err, ErrPairingCancelled):
		// The user ended their own wait; the end command replies.
		return
	case err != nil:
		handler.Logger().ErrorContext(
			ctx, "error joining pairing queue", tint.Err(err),
		)
		return
	}

	qb.dmSend(ctx, dmChannel.ID, msgChatMatched)
}

func (qb *QuantumBank) endRandomChat(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
) {
	peer, err := qb.pairing.End(user.ID)
	if err != nil {
		qb.editResponse(ctx, handler, msgChatNotInChat)
		return
	}
	qb.editResponse(ctx, handler, msgChatEnded)
	if peer != nil {
		qb.dmSend(ctx, peer.ChannelID, msgChatPeerEnded)
	}
}
