package planner

import (
	"browser-agent/internal/entity"
	"fmt"
	"strings"
)

const systemBase = "You are a web automation assistant that operates a real browser one action at a time."

const initialInstructions = `
Analyse the page snapshot and the task. Create a short high-level plan, then output the FIRST action to perform.

Return a JSON object in exactly this shape:
{
  "plan": ["Step 1", "Step 2"],
  "action": {"type": "click", "ref": "e1"}
}

If the task is already complete:
{
  "plan": [],
  "action": {"type": "finish", "summary": "What was found or done"}
}
`

const nextInstructions = `
You are given the current page snapshot, the history of actions already executed with their results, and the task.
Decide the single NEXT action. If the last action failed, try a different target or approach instead of repeating it.

Return a JSON object in exactly this shape:
{
  "action": {"type": "click", "ref": "e1"}
}
`

const actionTypesDoc = `
Available action types:
- 'click': {"type": "click", "ref": "e1"} or {"type": "click", "text": "Button Text"} or {"type": "click", "selector": "button"}
- 'type': {"type": "type", "ref": "e1", "text": "search text"} or {"type": "type", "selector": "input", "text": "search text"}
- 'select': {"type": "select", "ref": "e1", "value": "option"} or {"type": "select", "selector": "select", "value": "option"}
- 'wait': {"type": "wait", "timeout": 2000} or {"type": "wait", "selector": "#element"}
- 'scroll': {"type": "scroll", "direction": "down", "amount": 300}
- 'enter': {"type": "enter", "ref": "e1"} or {"type": "enter", "selector": "input[name=q]"} or {"type": "enter"}
- 'navigate': {"type": "navigate", "url": "https://example.com"}
- 'extract': {"type": "extract", "ref": "e1", "variable": "result"}
- 'finish': {"type": "finish", "summary": "task completion summary"}

Rules:
- Only use 'ref' values that exist in the current snapshot (ref=e1, ref=e2, ...). Refs change after the page changes.
- For 'click' prefer 'ref'; use 'text' for visible text or 'selector' for CSS selectors when no ref fits.
- For 'type'/'select'/'extract' use 'ref' or 'selector'.
- Use 'enter' to submit a form after typing; it presses Enter on the focused element when no target is given.
- Use 'finish' as soon as the task is done, with a summary of the result.
`

func initialPrompt(goal, snapshot string) (string, string) {
	system := systemBase + "\n" + initialInstructions + actionTypesDoc
	user := fmt.Sprintf("Snapshot:\n%s\n\nTask: %s", snapshot, goal)

	return system, user
}

func nextPrompt(goal, snapshot string, history []entity.HistoryEntry) (string, string) {
	system := systemBase + "\n" + nextInstructions + actionTypesDoc
	user := fmt.Sprintf("Snapshot:\n%s\n\nHistory:\n%s\n\nTask: %s", snapshot, HistoryLines(history), goal)

	return system, user
}

// HistoryLines renders history as numbered lines: "N. ✅|❌ <type> -> <outcome>".
func HistoryLines(history []entity.HistoryEntry) string {
	if len(history) == 0 {
		return "(no actions yet)"
	}

	lines := make([]string, 0, len(history))
	for i, h := range history {
		mark := "❌"
		if h.Success {
			mark = "✅"
		}

		lines = append(lines, fmt.Sprintf("%d. %s %s -> %s", i+1, mark, h.Action.Type, h.Outcome))
	}

	return strings.Join(lines, "\n")
}
