package quantumbank

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// InteractionHandler abstracts responding to a Discord interaction,
// so command handlers can be tested without a live gateway session.
type InteractionHandler interface {
	// Respond sends the initial interaction response
	Respond(
		ctx context.Context,
		response *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// GetResponse retrieves the current interaction response
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit updates the interaction response
	Edit(
		ctx context.Context,
		response *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes the interaction response
	Delete(ctx context.Context, options ...discordgo.RequestOption)

	// GetInteraction returns the interaction being handled
	GetInteraction() *discordgo.InteractionCreate

	Logger() *slog.Logger
	Config() CommandOptions
}

// GatewayHandler is the [InteractionHandler] for interactions received
// over the Discord gateway websocket connection.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	config      CommandOptions
	logger      *slog.Logger
}

func (h GatewayHandler) Logger() *slog.Logger {
	return h.logger
}

func (h GatewayHandler) Config() CommandOptions {
	return h.config
}

func (h GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return h.interaction
}

func (h GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	err := h.session.InteractionRespond(
		h.interaction.Interaction, response, options...,
	)
	if err != nil {
		h.logger.ErrorContext(
			ctx, "error responding to interaction", tint.Err(err),
		)
	}
	return err
}

func (h GatewayHandler) GetResponse(
	ctx context.Context,
) (*discordgo.Message, error) {
	msg, err := h.session.InteractionResponse(h.interaction.Interaction)
	if err != nil {
		h.logger.ErrorContext(
			ctx, "error getting interaction response", tint.Err(err),
		)
	}
	return msg, err
}

func (h GatewayHandler) Edit(
	ctx context.Context,
	response *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := h.session.InteractionResponseEdit(
		h.interaction.Interaction, response, options...,
	)
	if err != nil {
		h.logger.ErrorContext(
			ctx, "error editing interaction response", tint.Err(err),
		)
	}
	return msg, err
}

func (h GatewayHandler) Delete(
	ctx context.Context,
	options ...discordgo.RequestOption,
) {
	err := h.session.InteractionResponseDelete(
		h.interaction.Interaction, options...,
	)
	if err != nil {
		h.logger.ErrorContext(
			ctx, "error deleting interaction response", tint.Err(err),
		)
	}
}

// handleInteraction is the entrypoint for all incoming interactions.
func (qb *QuantumBank) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	if handler.Config().RecoverPanic {
		defer func() {
			qb.handleRecover(ctx, recover())
		}()
	}

	i := handler.GetInteraction()
	user := getDiscordUser(i)
	if user == nil {
		qb.logger.WarnContext(ctx, "no user found on interaction")
		return
	}

	logger := handler.Logger().With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	ctx = WithLogger(ctx, logger)

	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		interactionLog, err := newInteractionLog(i, user)
		if err != nil {
			logger.ErrorContext(
				ctx, "error creating interaction log", tint.Err(err),
			)
			return
		}
		if _, err = qb.writeDB.Create(interactionLog); err != nil {
			logger.ErrorContext(
				ctx, "error saving interaction log", tint.Err(err),
			)
		}
	}()

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
	case discordgo.InteractionMessageComponent:
		qb.handleMessageComponent(ctx, handler, user)
	case discordgo.InteractionApplicationCommand:
		qb.handleApplicationCommand(ctx, handler, user)
	default:
		logger.WarnContext(
			ctx, "unhandled interaction type", "type", i.Type.String(),
		)
	}
}

// handleApplicationCommand acknowledges a slash command and dispatches
// it to its handler. Commands that move money or run multi-step DM
// flows are serialized through the account's worker.
func (qb *QuantumBank) handleApplicationCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
) {
	i := handler.GetInteraction()
	data := i.ApplicationCommandData()
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = qb.logger
	}
	logger = logger.With("command", data.Name)
	ctx = WithLogger(ctx, logger)

	account, err := qb.accounts.Get(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrNoAccount) {
		logger.ErrorContext(ctx, "error loading account", tint.Err(err))
		return
	}

	if account != nil && account.Ignored {
		qb.handleIgnoredAccountCommand(ctx, handler, account)
		return
	}

	if qb.paused.Load() && (account == nil || !account.Priority) {
		logger.WarnContext(ctx, "bot is paused, rejecting command")
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: "The bank is temporarily closed. Please try again later.",
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return
	}

	if err = handler.Respond(ctx, qb.discord.ackResponse(data.Name)); err != nil {
		return
	}

	switch data.Name {
	case DiscordSlashCommandCreateAccount,
		DiscordSlashCommandPay,
		DiscordSlashCommandRandomChat:
		qb.enqueueWorkerCommand(ctx, handler, user, account, data.Name)
	case DiscordSlashCommandBalance:
		qb.handleBalanceCommand(ctx, handler, account)
	case DiscordSlashCommandPassbook:
		qb.handlePassbookCommand(ctx, handler, account)
	case DiscordSlashCommandTransferAddress:
		qb.handleTransferAddressCommand(ctx, handler, account)
	case DiscordSlashCommandLeaderboard:
		qb.handleLeaderboardCommand(ctx, handler, account)
	case DiscordSlashCommandChangeBranch:
		qb.handleChangeBranchCommand(ctx, handler, account)
	case DiscordSlashCommandAnime:
		qb.handleAnimeCommand(ctx, handler)
	case DiscordSlashCommandGrant:
		qb.handleGrantCommand(ctx, handler)
	case DiscordSlashCommandPing:
		qb.handlePingCommand(ctx, handler)
	case DiscordSlashCommandUserInfo:
		qb.handleUserInfoCommand(ctx, handler, account)
	case DiscordSlashCommandServerInfo:
		qb.handleServerInfoCommand(ctx, handler)
	case DiscordSlashCommandBotInfo:
		qb.handleBotInfoCommand(ctx, handler)
	case DiscordSlashCommandHelp:
		qb.handleHelpCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unknown command")
		handler.Delete(ctx)
	}
}

// enqueueWorkerCommand hands the command to the account's worker, which
// executes one command at a time. A second command sent while the
// worker is busy gets the rate limit message.
func (qb *QuantumBank) enqueueWorkerCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	account *Account,
	commandName string,
) {
	workerAccount := account
	if workerAccount == nil {
		workerAccount = &Account{
			ModelStringID: ModelStringID{ID: user.ID},
			Username:      user.Username,
			GlobalName:    user.GlobalName,
		}
	}
	worker := qb.getAccountWorker(ctx, workerAccount)

	cmd := queuedCommand{
		name:    commandName,
		handler: handler,
		run: func(runCtx context.Context) {
			switch commandName {
			case DiscordSlashCommandCreateAccount:
				qb.handleCreateAccountCommand(runCtx, handler, user, account)
			case DiscordSlashCommandPay:
				qb.handlePayCommand(runCtx, handler, account)
			case DiscordSlashCommandRandomChat:
				qb.handleRandomChatCommand(runCtx, handler, user, account)
			}
		},
	}

	select {
	case worker.commandCh <- cmd:
		//
	default:
		config := handler.Config()
		_, _ = handler.Edit(
			ctx,
			&discordgo.WebhookEdit{
				Content: &config.DiscordRateLimitMessage,
			},
		)
	}
}

// handleIgnoredAccountCommand silently drops commands from ignored
// accounts: the interaction is acknowledged and the acknowledgment
// deleted, so the user sees nothing.
func (qb *QuantumBank) handleIgnoredAccountCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = qb.logger
	}
	logger.WarnContext(
		ctx,
		"ignoring command",
		slog.Group("account", accountLogAttrs(*account)...),
	)
	i := handler.GetInteraction()
	if err := handler.Respond(
		ctx, qb.discord.ackResponse(i.ApplicationCommandData().Name),
	); err != nil {
		return
	}
	handler.Delete(ctx)
}

// handleMessageComponent routes button and select menu interactions by
// their custom ID action.
func (qb *QuantumBank) handleMessageComponent(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
) {
	i := handler.GetInteraction()
	data := i.MessageComponentData()
	action, payload := decodeCustomID(data.CustomID)

	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = qb.logger
	}
	logger = logger.With("component_action", action)
	ctx = WithLogger(ctx, logger)

	switch action {
	case customIDPayConfirm:
		qb.handlePayConfirmComponent(ctx, handler, user, payload)
	case customIDPayDecline:
		qb.handlePayDeclineComponent(ctx, handler, user, payload)
	case customIDBranchConfirm:
		qb.handleBranchConfirmComponent(ctx, handler, user, payload)
	case customIDBranchCancel:
		qb.handleBranchCancelComponent(ctx, handler)
	case customIDHelpMenu:
		qb.handleHelpMenuComponent(ctx, handler, data.Values)
	default:
		logger.WarnContext(
			ctx, "unknown component action", "custom_id", data.CustomID,
		)
	}
}

// componentUpdate builds an interaction response that replaces the
// message the component was attached to, removing its components.
func componentUpdate(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	}
}
