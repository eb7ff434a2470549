package quantumbank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/shopspring/decimal"
)

const (
	msgPayNonPositive = "The amount has to be more than zero."
	msgPayUnknownPayee = "No account has that transfer address. " +
		"Double-check it with the payee."
	msgPayInsufficient = "You don't have enough money for that transfer."
	msgPaySelf         = "You can't pay yourself. Nice try, though."
	msgPayNotPending   = "That transfer was already handled, or timed out."
	msgPayExpired      = "The confirmation window lapsed, so the transfer was canceled."
	msgPayDeclined     = "❌ Transfer declined. No money moved."
	msgPayNotYours     = "Only the payer can decide this transfer."
	msgPayVerifyFailed = "⚠️ Your balance no longer covers this transfer, so it " +
		"was canceled. The failed attempt is noted in your passbook."
)

// handlePayCommand validates a transfer and, if it passes, parks it
// pending confirmation and shows the payer Confirm/Decline buttons.
// Runs on the account worker, so a payer can only line up one
// transfer at a time.
func (qb *QuantumBank) handlePayCommand(
	ctx context.Context,
	handler InteractionHandler,
	account *Account,
) {
	if account == nil {
		qb.editResponse(ctx, handler, msgNoAccount)
		return
	}

	options := discordInteractionOptions(handler.GetInteraction())
	payeeOpt := options[payCommandOptionPayee]
	amountOpt := options[payCommandOptionAmount]
	if payeeOpt == nil || amountOpt == nil {
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}
	payeeAddress := strings.TrimSpace(payeeOpt.StringValue())
	amount := decimal.NewFromFloat(amountOpt.FloatValue()).Round(2)
	note := ""
	if noteOpt, exists := options[payCommandOptionNote]; exists {
		note = truncate(noteOpt.StringValue(), 200)
	}

	pending, err := qb.transfers.Initiate(
		ctx, account.ID, payeeAddress, amount, note,
	)
	if err != nil {
		qb.editResponse(ctx, handler, payRejectionMessage(err))
		return
	}

	content := fmt.Sprintf(
		"Send **%s** to `%s`?\nYou have %s to confirm.",
		formatMoney(pending.Amount),
		pending.PayeeAddress,
		pending.ExpiresAt.Sub(pending.CreatedAt).Round(time.Second).String(),
	)
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label: "Confirm",
					Style: discordgo.SuccessButton,
					CustomID: fmt.Sprintf(
						customIDFormat, customIDPayConfirm, pending.ID,
					),
				},
				discordgo.Button{
					Label: "Decline",
					Style: discordgo.DangerButton,
					CustomID: fmt.Sprintf(
						customIDFormat, customIDPayDecline, pending.ID,
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

// payRejectionMessage maps a transfer validation error to the message
// shown to the payer.
func payRejectionMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoAccount):
		return msgNoAccount
	case errors.Is(err, ErrNonPositiveAmount):
		return msgPayNonPositive
	case errors.Is(err, ErrInsufficientBalance):
		return msgPayInsufficient
	case errors.Is(err, ErrUnknownPayee):
		return msgPayUnknownPayee
	case errors.Is(err, ErrSelfPayment):
		return msgPaySelf
	default:
		return DefaultDiscordErrorMessage
	}
}

// handlePayConfirmComponent commits a pending transfer when the payer
// presses Confirm. The pending transfer ID rides in the custom ID
// payload.
func (qb *QuantumBank) handlePayConfirmComponent(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	transferID string,
) {
	logger := handler.Logger()

	pending := qb.transfers.Pending(transferID)
	if pending != nil && pending.PayerID != user.ID {
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: msgPayNotYours,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return
	}

	receipt, err := qb.transfers.Confirm(ctx, transferID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransferNotPending):
			_ = handler.Respond(ctx, componentUpdate(msgPayNotPending))
		case errors.Is(err, ErrTransferExpired):
			_ = handler.Respond(ctx, componentUpdate(msgPayExpired))
		case errors.Is(err, ErrInsufficientBalance):
			_ = handler.Respond(ctx, componentUpdate(msgPayVerifyFailed))
		default:
			logger.ErrorContext(ctx, "error confirming transfer", tint.Err(err))
			_ = handler.Respond(
				ctx, componentUpdate(handler.Config().DiscordErrorMessage),
			)
		}
		return
	}

	_ = handler.Respond(
		ctx, componentUpdate(
			fmt.Sprintf(
				"✅ Sent **%s** to `%s`.\nReceipt: `%s`\nNew balance: %s",
				formatMoney(receipt.Amount),
				pendingAddress(pending, receipt),
				receipt.ReceiptID,
				formatMoney(receipt.Payer.Balance),
			),
		),
	)

	qb.notifyPayee(ctx, receipt)
}

func pendingAddress(pending *PendingTransfer, receipt *Receipt) string {
	if pending != nil {
		return pending.PayeeAddress
	}
	return receipt.Payee.TransferAddress
}

// notifyPayee DMs the payee that money arrived. Best effort: payees
// with closed DMs just don't get the heads-up.
func (qb *QuantumBank) notifyPayee(ctx context.Context, receipt *Receipt) {
	channel, err := qb.discord.session.UserChannelCreate(receipt.Payee.ID)
	if err != nil {
		qb.logger.WarnContext(
			ctx, "couldn't open payee dm channel", tint.Err(err),
		)
		return
	}
	qb.dmSend(
		ctx, channel.ID,
		fmt.Sprintf(
			"💸 You received **%s**! New balance: %s",
			formatMoney(receipt.Amount),
			formatMoney(receipt.Payee.Balance),
		),
	)
}

// handlePayDeclineComponent discards a pending transfer when the payer
// presses Decline.
func (qb *QuantumBank) handlePayDeclineComponent(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	transferID string,
) {
	pending := qb.transfers.Pending(transferID)
	if pending != nil && pending.PayerID != user.ID {
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: msgPayNotYours,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return
	}

	_, err := qb.transfers.Decline(ctx, transferID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransferNotPending):
			_ = handler.Respond(ctx, componentUpdate(msgPayNotPending))
		case errors.Is(err, ErrTransferExpired):
			_ = handler.Respond(ctx, componentUpdate(msgPayExpired))
		default:
			handler.Logger().ErrorContext(
				ctx, "error declining transfer", tint.Err(err),
			)
			_ = handler.Respond(
				ctx, componentUpdate(handler.Config().DiscordErrorMessage),
			)
		}
		return
	}
	_ = handler.Respond(ctx, componentUpdate(msgPayDeclined))
}
