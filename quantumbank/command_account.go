package quantumbank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	kycStepName  = "name"
	kycStepEmail = "email"

	kycReasonTimeout        = "reply timeout"
	kycReasonInvalidAnswer  = "invalid answer"
	kycReasonDMUnavailable  = "dm unavailable"
	kycReasonDuplicateEntry = "account already exists"
)

const (
	msgAccountExists = "You already have an account with us! " +
		"Use `/balance` to check it."
	msgNoAccount = "You don't have an account yet. " +
		"Open one with `/create_account`."
	msgCheckYourDMs     = "📨 Check your DMs to finish opening your account!"
	msgKYCNamePrompt    = "Welcome to Quantum Bank! What name should we put on the account?"
	msgKYCEmailPrompt   = "Thanks! And what's your email address?"
	msgKYCInvalidEmail  = "That doesn't look like an email address, try again?"
	msgKYCTimedOut      = "We didn't hear back in time, so the application was closed. Run `/create_account` to start over."
	msgKYCProcessing    = "Verifying your details..."
	msgKYCAbandoned     = "Too many invalid answers, the application was closed. Run `/create_account` to start over."
	msgDMUnavailable    = "I couldn't DM you! Check your privacy settings and try again."
	msgBranchNoGuild    = "Run this in the server you want as your branch."
	msgBranchUnchanged  = "Your account is already at this branch."
	msgBranchCanceled   = "Branch change canceled."
	msgLeaderboardEmpty = "No accounts at this branch yet."
	msgPassbookEmpty    = "No transactions yet. Your passbook is squeaky clean."
)

// handleCreateAccountCommand runs the account-opening flow: the user's
// identity details are collected over DM, validated, and a new account
// is opened at the branch the command was run in. Runs on the
// account worker, so a user can only have one application in flight.
func (qb *QuantumBank) handleCreateAccountCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	account *Account,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = qb.logger
	}

	if account != nil {
		qb.editResponse(ctx, handler, msgAccountExists)
		return
	}

	dmChannel, err := qb.discord.session.UserChannelCreate(user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error opening dm channel", tint.Err(err))
		qb.recordFailedKYC(ctx, user, kycReasonDMUnavailable, "")
		qb.editResponse(ctx, handler, msgDMUnavailable)
		return
	}

	qb.editResponse(ctx, handler, msgCheckYourDMs)

	holderName, err := qb.kycPrompt(
		ctx, dmChannel.ID, msgKYCNamePrompt, nil,
	)
	if err != nil {
		qb.recordFailedKYC(ctx, user, kycReasonTimeout, kycStepName)
		qb.dmSend(ctx, dmChannel.ID, msgKYCTimedOut)
		return
	}

	email, err := qb.kycPrompt(
		ctx, dmChannel.ID, msgKYCEmailPrompt,
		func(answer string) (string, bool) {
			answer = strings.TrimSpace(answer)
			return answer, emailPattern.MatchString(answer)
		},
	)
	switch {
	case errors.Is(err, errKYCRetriesExhausted):
		qb.recordFailedKYC(ctx, user, kycReasonInvalidAnswer, kycStepEmail)
		qb.dmSend(ctx, dmChannel.ID, msgKYCAbandoned)
		return
	case err != nil:
		qb.recordFailedKYC(ctx, user, kycReasonTimeout, kycStepEmail)
		qb.dmSend(ctx, dmChannel.ID, msgKYCTimedOut)
		return
	}

	qb.dmSend(ctx, dmChannel.ID, msgKYCProcessing)
	select {
	case <-ctx.Done():
		return
	case <-time.After(qb.config.Bank.KYCProcessingDelay):
		//
	}

	newAccount := &Account{
		ModelStringID: ModelStringID{ID: user.ID},
		Username:      user.Username,
		GlobalName:    user.GlobalName,
		HolderName:    strings.TrimSpace(holderName),
		Email:         email,
		KYCApproved:   true,
	}
	i := handler.GetInteraction()
	if i.GuildID != "" {
		newAccount.BranchID = i.GuildID
		if guild, guildErr := qb.discord.session.Guild(i.GuildID); guildErr == nil {
			newAccount.BranchName = guild.Name
		}
	}

	created, err := qb.accounts.Create(ctx, newAccount)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			qb.recordFailedKYC(ctx, user, kycReasonDuplicateEntry, "")
			qb.dmSend(ctx, dmChannel.ID, msgAccountExists)
			return
		}
		logger.ErrorContext(ctx, "error creating account", tint.Err(err))
		qb.dmSend(ctx, dmChannel.ID, handler.Config().DiscordErrorMessage)
		return
	}

	qb.dmSend(
		ctx, dmChannel.ID,
		fmt.Sprintf(
			"✅ Your account is open, %s!\n"+
				"Your transfer address is `%s` — share it to receive money.",
			created.HolderName,
			created.TransferAddress,
		),
	)
	qb.notifyChannel(
		ctx,
		fmt.Sprintf("🎉 %s just opened an account!", user.Username),
	)
}

var errKYCRetriesExhausted = errors.New("verification retries exhausted")

// kycPrompt sends a DM prompt and waits for the user's next message in
// the channel. If validate is non-nil, invalid answers are re-prompted
// up to KYCMaxRetries times before giving up.
func (qb *QuantumBank) kycPrompt(
	ctx context.Context,
	channelID string,
	prompt string,
	validate func(answer string) (string, bool),
) (string, error) {
	retries := 0
	message := prompt
	for {
		// Register the waiter before prompting, so a reply that
		// arrives while the prompt is still in flight is not dropped.
		replyCh, cancel := qb.awaitDM(channelID)
		qb.dmSend(ctx, channelID, message)
		var reply *discordgo.Message
		select {
		case <-ctx.Done():
			cancel()
			return "", ctx.Err()
		case <-time.After(qb.config.Bank.KYCReplyTimeout):
			cancel()
			return "", fmt.Errorf("%w: no reply", context.DeadlineExceeded)
		case reply = <-replyCh:
			cancel()
		}

		if validate == nil {
			return reply.Content, nil
		}
		answer, valid := validate(reply.Content)
		if valid {
			return answer, nil
		}
		retries++
		if retries > qb.config.Bank.KYCMaxRetries {
			return "", errKYCRetriesExhausted
		}
		message = msgKYCInvalidEmail
	}
}

func (qb *QuantumBank) recordFailedKYC(
	ctx context.Context,
	user *discordgo.User,
	reason string,
	step string,
) {
	err := qb.accounts.RecordFailedKYC(
		ctx, &FailedKYC{
			UserID:   user.ID,
			Username: user.Username,
			Reason:   reason,
			Step:     step,
		},
	)
	if err != nil {
		qb.logger.ErrorContext(
			ctx, "error recording failed verification", tint.Err(err),
		)
	}
}

// handleBalanceCommand replies with the account's current balance.
func (qb *QuantumBank) handleBalanceCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	if account == nil {
		qb.editResponse(ctx, handler, msgNoAccount)
		return
	}
	qb.editResponse(
		ctx, handler,
		fmt.Sprintf(
			"💰 Your balance is **%s**", formatMoney(account.Balance),
		),
	)
}

// handlePassbookCommand replies with an embed of the account's most
// recent transactions, newest first.
func (qb *QuantumBank) handlePassbookCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	if account == nil {
		qb.editResponse(ctx, handler, msgNoAccount)
		return
	}
	records, err := qb.accounts.Transactions(
		ctx, account.ID, qb.config.Bank.PassbookLimit,
	)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx, "error loading transactions", tint.Err(err),
		)
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}
	if len(records) == 0 {
		qb.editResponse(ctx, handler, msgPassbookEmpty)
		return
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(records))
	for _, record := range records {
		var line string
		switch record.Kind {
		case TransactionDebit:
			line = fmt.Sprintf("➖ Sent %s", formatMoney(record.Amount))
		case TransactionCredit:
			line = fmt.Sprintf("➕ Received %s", formatMoney(record.Amount))
		case TransactionFailedVerification:
			line = fmt.Sprintf(
				"⚠️ Failed transfer of %s", formatMoney(record.Amount),
			)
		}
		if record.Note != "" {
			line += " — " + truncate(record.Note, 100)
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: time.UnixMilli(record.CreatedAt).UTC().Format(
					"2006-01-02 15:04",
				),
				Value: line,
			},
		)
	}
	embeds := []*discordgo.MessageEmbed{
		{
			Title:  "📖 Passbook",
			Fields: fields,
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf(
					"Balance: %s", formatMoney(account.Balance),
				),
			},
		},
	}
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}

// handleTransferAddressCommand shows the account's transfer address,
// or regenerates it if the regenerate option was set.
func (qb *QuantumBank) handleTransferAddressCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	if account == nil {
		qb.editResponse(ctx, handler, msgNoAccount)
		return
	}

	options := discordInteractionOptions(handler.GetInteraction())
	regenerate := false
	if opt, exists := options[transferAddressOptionRegenerate]; exists {
		regenerate = opt.BoolValue()
	}

	address := account.TransferAddress
	if regenerate {
		newAddress, err := qb.accounts.SetTransferAddress(ctx, account.ID)
		if err != nil {
			handler.Logger().ErrorContext(
				ctx, "error regenerating transfer address", tint.Err(err),
			)
			qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
			return
		}
		address = newAddress
		qb.editResponse(
			ctx, handler,
			fmt.Sprintf(
				"🔄 Your new transfer address is `%s`. The old one no longer works.",
				address,
			),
		)
		return
	}
	qb.editResponse(
		ctx, handler,
		fmt.Sprintf(
			"📬 Your transfer address is `%s` — share it to receive money.",
			address,
		),
	)
}

// handleChangeBranchCommand asks the user to confirm moving their
// account to the guild the command was run in.
func (qb *QuantumBank) handleChangeBranchCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	if account == nil {
		qb.editResponse(ctx, handler, msgNoAccount)
		return
	}
	i := handler.GetInteraction()
	if i.GuildID == "" {
		qb.editResponse(ctx, handler, msgBranchNoGuild)
		return
	}
	if i.GuildID == account.BranchID {
		qb.editResponse(ctx, handler, msgBranchUnchanged)
		return
	}

	branchName := i.GuildID
	if guild, err := qb.discord.session.Guild(i.GuildID); err == nil {
		branchName = guild.Name
	}

	content := fmt.Sprintf(
		"Move your account to the **%s** branch? "+
			"Your leaderboard ranking moves with it.",
		branchName,
	)
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label: "Confirm",
					Style: discordgo.PrimaryButton,
					CustomID: fmt.Sprintf(
						customIDFormat, customIDBranchConfirm, i.GuildID,
					),
				},
				discordgo.Button{
					Label: "Cancel",
					Style: discordgo.SecondaryButton,
					CustomID: fmt.Sprintf(
						customIDFormat, customIDBranchCancel, i.GuildID,
					),
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

// handleBranchConfirmComponent commits a pending branch change. The
// target guild ID rides in the component's custom ID payload.
func (qb *QuantumBank) handleBranchConfirmComponent(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	branchID string,
) {
	if branchID == "" {
		_ = handler.Respond(ctx, componentUpdate(msgBranchCanceled))
		return
	}
	branchName := branchID
	if guild, err := qb.discord.session.Guild(branchID); err == nil {
		branchName = guild.Name
	}
	account, err := qb.accounts.SetBranch(ctx, user.ID, branchID, branchName)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx, "error changing branch", tint.Err(err),
		)
		_ = handler.Respond(
			ctx, componentUpdate(handler.Config().DiscordErrorMessage),
		)
		return
	}
	_ = handler.Respond(
		ctx, componentUpdate(
			fmt.Sprintf(
				"🏦 Your account now belongs to the **%s** branch.",
				account.BranchName,
			),
		),
	)
}

func (qb *QuantumBank) handleBranchCancelComponent(
	ctx context.Context,
	handler InteractionHandler,
) {
	_ = handler.Respond(ctx, componentUpdate(msgBranchCanceled))
}

// editResponse replaces the deferred interaction response with the
// given content.
func (qb *QuantumBank) editResponse(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	content = truncate(content, discordMaxMessageLength)
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
}

// dmSend sends a message to a DM channel, logging failures.
func (qb *QuantumBank) dmSend(
	ctx context.Context,
	channelID string,
	content string,
) {
	_, err := qb.discord.session.ChannelMessageSend(
		channelID, truncate(content, discordMaxMessageLength),
	)
	if err != nil {
		qb.logger.ErrorContext(ctx, "error sending dm", tint.Err(err))
	}
}

// notifyChannel sends a message to the configured notification
// channel, if one is set.
func (qb *QuantumBank) notifyChannel(ctx context.Context, content string) {
	channelID := qb.RuntimeConfig().DiscordNotificationChannelID
	if channelID == "" {
		return
	}
	_, err := qb.discord.session.ChannelMessageSend(
		channelID, truncate(content, discordMaxMessageLength),
	)
	if err != nil {
		qb.logger.ErrorContext(
			ctx, "error sending notification", tint.Err(err),
		)
	}
}
