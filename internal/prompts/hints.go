package prompts

import (
	"fmt"
	"strings"
)

// pendingActionTemplate recaps an action proposed earlier in the
// conversation that still awaits user confirmation. The single format
// verb is the proposal text.
const pendingActionTemplate = `## Pending Action
A proposed action is awaiting the user's confirmation:
%s
Do not re-propose it. If the user confirms, carry it out; if they decline or change the subject, drop it.`

// HintBlock formats operator hints as a system-side block. Hints are
// steering notes injected by the caller, never shown to the user.
// Empty and whitespace-only hints are skipped; no usable hints yields
// an empty string.
func HintBlock(hints []string) string {
	var lines []string
	for _, h := range hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		lines = append(lines, "- "+h)
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Operator Hints\n" + strings.Join(lines, "\n")
}

// PendingActionNote returns the pending-action recap for preview, or
// an empty string when preview is blank.
func PendingActionNote(preview string) string {
	preview = strings.TrimSpace(preview)
	if preview == "" {
		return ""
	}
	return fmt.Sprintf(pendingActionTemplate, preview)
}
