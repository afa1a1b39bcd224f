package escalation

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

const systemInstruction = `You help a browser automation agent that is stuck on one stage of a multi-stage web challenge.
Propose a SHORT sequence of UI actions that would reveal or unlock the stage's code entry.
Never propose a code value: the agent finds and validates codes itself.
Buttons labelled like "Click Me!", "Here!" or "Try This!" are decoys; do not click them.`

// buildPrompt renders the stuck page for the model.
func buildPrompt(pc engine.PageContext, maxActions int) string {
	var b strings.Builder

	if pc.Stage > 0 {
		fmt.Fprintf(&b, "Current stage: %d.\n", pc.Stage)
	} else {
		b.WriteString("Current stage unknown.\n")
	}
	if pc.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", pc.URL)
	}
	if pc.Failure != "" {
		fmt.Fprintf(&b, "Last failure: %s\n", pc.Failure)
	}

	b.WriteString("\nVisible controls:\n")
	writeList(&b, pc.Controls)
	b.WriteString("\nVisible inputs:\n")
	writeList(&b, pc.Inputs)

	b.WriteString("\nPage text:\n")
	b.WriteString(pc.BodyText)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, `Reply with ONLY a JSON object: {"actions": [...], "reasoning": "..."}.
Each action has "action" (click, fill, press or scroll) and:
- click, scroll: "target" (a visible control label or a CSS selector)
- fill: "target" and "text"
- press: "key" (Enter, Escape or Tab)
Use at most %d actions.`, maxActions)
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
