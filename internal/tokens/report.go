package tokens

import (
	"fmt"
	"strings"
)

// UsageInfo holds the data needed to render a one-line budget usage
// summary for an assembled prompt.
type UsageInfo struct {
	// Model is the model name the accountant was built for.
	Model string
	// InputTokens is the token count of the final assembled input.
	InputTokens int
	// Budget is the budget the assembly ran under.
	Budget Budget
	// MessageCount is the number of messages in the final list.
	MessageCount int
	// DroppedMessages is how many history messages truncation removed.
	DroppedMessages int
	// DegradedFragments is how many fragments fell back to placeholders.
	DegradedFragments int
	// OverBudget reports that the mandatory pair alone exceeded the budget.
	OverBudget bool
}

// FormatUsage renders a single-line usage summary. Each segment is
// conditionally included based on available data. Returns an empty
// string only if no data is available at all.
func FormatUsage(info UsageInfo) string {
	var parts []string

	if info.Model != "" {
		parts = append(parts, info.Model)
	}

	if avail := info.Budget.Available(); avail > 0 {
		pct := float64(info.InputTokens) / float64(avail) * 100
		parts = append(parts, fmt.Sprintf("%s/%s tokens (%.1f%%)",
			formatNumber(info.InputTokens),
			formatNumber(avail),
			pct))
	}

	if info.Budget.ReservedResponseTokens > 0 {
		parts = append(parts, fmt.Sprintf("reserve %s", formatNumber(info.Budget.ReservedResponseTokens)))
	}

	if info.MessageCount > 0 {
		seg := fmt.Sprintf("%d msgs", info.MessageCount)
		if info.DroppedMessages > 0 {
			seg += fmt.Sprintf(" (%d dropped)", info.DroppedMessages)
		}
		parts = append(parts, seg)
	}

	if info.DegradedFragments > 0 {
		parts = append(parts, fmt.Sprintf("%d degraded", info.DegradedFragments))
	}

	if info.OverBudget {
		parts = append(parts, "OVER BUDGET")
	}

	if len(parts) == 0 {
		return ""
	}
	return "**Budget:** " + strings.Join(parts, " | ")
}

// formatNumber formats an integer with comma separators (e.g., 200000 → "200,000").
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		sb.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}
