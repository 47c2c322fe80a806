package agent

import (
	"fmt"
	"strings"

	"github.com/rahul/charforge/internal/store"
)

// HistoryLimit is how many earlier assistant messages feed the planner.
const HistoryLimit = 5

const historyContentLimit = 300

// FormatHistory renders earlier assistant messages as planner context, one
// numbered entry per message, each cut to a bounded length.
func FormatHistory(messages []store.Message) string {
	var b strings.Builder
	n := 0
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if m.Role != store.RoleAssistant || content == "" {
			continue
		}
		n++
		if r := []rune(content); len(r) > historyContentLimit {
			content = string(r[:historyContentLimit]) + "..."
		}
		agent := m.Agent
		if agent == "" {
			agent = "assistant"
		}
		if n > 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. [%s] %s", n, agent, content)
	}
	return b.String()
}
