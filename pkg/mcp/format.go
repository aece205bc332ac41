package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skygate-io/skygate/pkg/budget"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/order"
	"github.com/skygate-io/skygate/pkg/token"
)

// formatArchives formats search results as a text table.
func formatArchives(archives []models.Archive) string {
	if len(archives) == 0 {
		return "No archives found for this area and date range."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-12s %-10s %-20s %6s %10s\n",
		"Archive ID", "Provider", "Res", "Captured", "Cloud%", "Price")
	b.WriteString(strings.Repeat("-", 88) + "\n")
	for _, a := range archives {
		id := a.ID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		fmt.Fprintf(&b, "%-24s %-12s %-10s %-20s %5.1f%% %10s\n",
			id, a.Provider, a.Resolution, a.CaptureDate, a.CloudCover,
			models.CentsFromDollars(a.Price).String())
	}
	fmt.Fprintf(&b, "\n%d archives. Use skygate_prepare_purchase with an archive ID to get a quote.\n", len(archives))
	return b.String()
}

// formatPrepared renders a prepared purchase with its explicit approval
// instructions.
func formatPrepared(p order.Prepared) string {
	var b strings.Builder
	b.WriteString("Order Preview\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	fmt.Fprintf(&b, "Archive ID: %s\n", p.Quote.Spec.ArchiveID)
	fmt.Fprintf(&b, "Price:      %s %s\n\n", p.Quote.Price, p.Quote.Currency)
	b.WriteString("HUMAN APPROVAL REQUIRED\n\n")
	b.WriteString("To complete this order:\n")
	fmt.Fprintf(&b, "1. Review the price above\n")
	fmt.Fprintf(&b, "2. Copy this token: %s\n", p.TokenID)
	fmt.Fprintf(&b, "3. Copy this code: %s\n", p.Code)
	b.WriteString("4. Use skygate_confirm_purchase with both values\n\n")
	fmt.Fprintf(&b, "This quote expires in %.0f seconds.\n", p.TTL.Seconds())
	b.WriteString("Only confirm if you want to spend real money.")
	return b.String()
}

// formatBudget renders ceilings and committed spend.
func formatBudget(g *budget.Guard, sessionID string) string {
	limits := g.Limits()
	var b strings.Builder
	b.WriteString("Spend Guardrails\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&b, "Per-order ceiling: %s\n", limitString(limits.PerOrder))
	fmt.Fprintf(&b, "Session ceiling:   %s\n", limitString(limits.Session))
	fmt.Fprintf(&b, "Daily ceiling:     %s\n\n", limitString(limits.Daily))
	fmt.Fprintf(&b, "Session spend today: %s\n", g.SessionSpent(sessionID))
	fmt.Fprintf(&b, "Total spend today:   %s\n", g.DailySpent())
	return b.String()
}

func limitString(c models.Cents) string {
	if c <= 0 {
		return "unlimited"
	}
	return c.String()
}

// formatOrders formats placed orders as a text table.
func formatOrders(orders []models.OrderRecord) string {
	if len(orders) == 0 {
		return "No orders placed yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %10s %-20s\n", "Placed", "Archive", "Cost", "Order Ref")
	b.WriteString(strings.Repeat("-", 78) + "\n")
	for _, o := range orders {
		archive := o.ArchiveID
		if len(archive) > 24 {
			archive = archive[:21] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-24s %10s %-20s\n",
			o.CreatedAt.Format("2006-01-02 15:04:05"), archive, o.Cost, o.OrderRef)
	}
	return b.String()
}

// describePrepareError maps Prepare failures to agent-facing text.
func describePrepareError(err error) string {
	switch {
	case errors.Is(err, order.ErrOrderingDisabled):
		return "Ordering is disabled on this server. Nothing can be purchased."
	case errors.Is(err, order.ErrNotAuthenticated):
		return "Not authenticated. Use skygate_begin_authentication first."
	default:
		return "Could not prepare the purchase: " + err.Error()
	}
}

// describeConfirmError maps Confirm failures to agent-facing text. Token
// state failures are deliberately vague: an expired, replayed or unknown
// token reads the same, so nothing is leaked to a caller probing tokens.
// Budget and upstream failures carry detail, which the caller needs to
// react.
func describeConfirmError(err error) string {
	switch {
	case errors.Is(err, order.ErrOrderingDisabled):
		return "Ordering is disabled on this server. Nothing can be purchased."
	case errors.Is(err, order.ErrCodeMismatch):
		return "The confirmation code does not match. Check the code from skygate_prepare_purchase and try again."
	case errors.Is(err, budget.ErrBudgetExceeded):
		return "This purchase would exceed a configured spend ceiling. " +
			"Check skygate_budget_status; a smaller order may still fit."
	case errors.Is(err, order.ErrOrderFailed):
		return "The order could not be placed upstream and nothing was charged against the budget. " +
			"The purchase token is spent; prepare the order again to retry."
	case errors.Is(err, token.ErrNotFound),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrAlreadyUsed):
		return "This purchase token is invalid, expired, or already used. Prepare the order again."
	case errors.Is(err, order.ErrNotAuthenticated):
		return "The session is no longer authenticated. Use skygate_begin_authentication first."
	default:
		return "Could not confirm the purchase: " + err.Error()
	}
}
