package quantumbank

import (
	"context"
	"errors"
	"fmt"

	"github.com/lmittmann/tint"
	"github.com/shopspring/decimal"
)

const msgGrantNoAccount = "That user doesn't have an account yet."

// handleGrantCommand credits an account out of thin air. Restricted to
// administrators via the command's default member permissions.
func (qb *QuantumBank) handleGrantCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	options := discordInteractionOptions(handler.GetInteraction())
	userOpt := options[grantCommandOptionUser]
	amountOpt := options[grantCommandOptionAmount]
	if userOpt == nil || amountOpt == nil {
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}
	target := userOpt.UserValue(nil)
	amount := decimal.NewFromFloat(amountOpt.FloatValue()).Round(2)
	if !amount.IsPositive() {
		qb.editResponse(ctx, handler, msgPayNonPositive)
		return
	}

	account, err := qb.accounts.UpdateBalance(ctx, target.ID, amount)
	if err != nil {
		if errors.Is(err, ErrNoAccount) {
			qb.editResponse(ctx, handler, msgGrantNoAccount)
			return
		}
		handler.Logger().ErrorContext(
			ctx, "error granting funds", tint.Err(err),
		)
		qb.editResponse(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}

	if err = qb.accounts.AppendTransaction(
		ctx, &TransactionRecord{
			AccountID: account.ID,
			Kind:      TransactionCredit,
			Amount:    amount,
			Note:      "admin grant",
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error recording grant", tint.Err(err),
		)
	}

	qb.editResponse(
		ctx, handler,
		fmt.Sprintf(
			"🪄 Granted **%s** to %s. Their balance is now %s.",
			formatMoney(amount),
			account.Username,
			formatMoney(account.Balance),
		),
	)
}
