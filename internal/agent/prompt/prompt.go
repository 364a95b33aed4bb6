// Package prompt implements Prompt Binding (spec.md §4.11): pure data, no
// behaviour. Base templates are merged with tool descriptions, the planning
// interval, and the current time to produce the system prompt text handed to
// Memory as the SystemPrompt step. Domain extensions (react/codact/manager)
// layer additional instructions onto the base template, grounded on
// original_source/src/agents/prompt_templates/* and prompts.py.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

// Variant names which agent kind a template set targets.
type Variant string

const (
	VariantReAct   Variant = "react"
	VariantCodeAct Variant = "codact"
	VariantManager Variant = "manager"
)

// baseSystemPrompt is the shared opening shown to every variant.
const baseSystemPrompt = `You are DeepSearchAgent, an autonomous research assistant.
You answer the user's question by planning, acting with tools, and observing
results until you can produce a well-sourced final answer.`

var variantExtensions = map[Variant]string{
	VariantReAct: `Respond with a tool call as a JSON object {"name": "<tool>", "arguments": {...}}
when you need to act, or plain text when you are thinking. Call final_answer
with {"title","content","sources"} to finish.`,
	VariantCodeAct: `Respond with a single <code>...</code> block containing Python that calls
the available tools as functions. Call final_answer(json.dumps({"title":
"...","content":"...","sources":[...]})) inside the code to finish.`,
	VariantManager: `You may delegate work to sub-agents exposed as tools named "agent.<name>",
each taking a single "task" string argument. Prefer delegating well-scoped
sub-tasks over doing everything yourself.`,
}

// Binding is the fully-merged prompt text for one Run.
type Binding struct {
	SystemPrompt    string
	PlanningInitial string
	PlanningUpdate  string
}

// toolIcons maps a tool name to a small decorative glyph shown next to it in the
// rendered tool list, mirroring the source's per-tool icon map; unmapped
// tools fall back to a generic bullet.
var toolIcons = map[string]string{
	"search_links":  "🔎",
	"read_url":      "📄",
	"wolfram":       "➗",
	"final_answer":  "✅",
}

func iconFor(name string) string {
	if icon, ok := toolIcons[name]; ok {
		return icon
	}
	return "•"
}

// Bind merges the base template, the variant extension, the registered tool
// descriptions (with icons), the planning interval, and the current time
// into a complete Binding.
func Bind(variant Variant, registry *tools.Registry, planningInterval int, now time.Time) Binding {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	b.WriteString("\n\n")
	if ext, ok := variantExtensions[variant]; ok {
		b.WriteString(ext)
		b.WriteString("\n\n")
	}
	b.WriteString("Available tools:\n")
	for _, name := range registry.Names() {
		desc, _ := registry.Get(name)
		fmt.Fprintf(&b, "%s %s — %s\n", iconFor(name), desc.Name, desc.Description)
	}
	fmt.Fprintf(&b, "\nCurrent time: %s\n", now.Format(time.RFC3339))
	if planningInterval > 0 {
		fmt.Fprintf(&b, "You will be asked to update your plan every %d steps.\n", planningInterval)
	}

	return Binding{
		SystemPrompt:    b.String(),
		PlanningInitial: "Produce an initial step-by-step plan to answer the task.",
		PlanningUpdate:  "Review progress so far and produce an updated plan, noting what changed.",
	}
}
