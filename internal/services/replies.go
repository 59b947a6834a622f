// Package services – user-facing reply templates.
//
// All text shown to end users is drawn from this small fixed set. Raw
// provider or database error text never reaches a reply; operators get the
// detail through logs instead.
package services

import (
	"fmt"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

const (
	// ReplyUnauthorized is the generic decline for unknown senders. It
	// intentionally says nothing about how the whitelist works.
	ReplyUnauthorized = "Sorry, you are not authorized to use this bot."

	// ReplyNotAnExpense nudges the user toward a parseable message.
	ReplyNotAnExpense = "This doesn't look like an expense. Try something like: 'Pizza 20 reais'"

	// ReplyCouldNotExtract is shown when the provider answered but the
	// answer failed validation (missing or non-positive amount).
	ReplyCouldNotExtract = "Could not extract all expense details. Please provide description, amount, and try again."

	// ReplyTryAgain covers transient failures (provider outage, database
	// connectivity); resending the message is the retry path.
	ReplyTryAgain = "Sorry, there was an error processing your expense. Please try again."
)

// SuccessReply formats the confirmation for a persisted expense, e.g.
// "Food expense added ✅ (20.00)".
func SuccessReply(e *domain.Expense) string {
	return fmt.Sprintf("%s expense added ✅ (%s)", e.Category, e.Amount.StringFixed(2))
}
