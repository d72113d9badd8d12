package nlu

import (
	"fmt"
	"strings"

	"boi/internal/assistant"
	"boi/internal/registry"
)

// recentTurns is how many memory turns the model sees on parse.
const recentTurns = 3

const parseHeader = `
You are the command parser of a desktop assistant.
Your ONLY job is to convert the user's utterance into one JSON object.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT add explanations.
3. Output ONLY JSON. No markdown.
4. Never invent actions or parameters that are not listed below.

OUTPUT FORMAT:
{
  "action": "<one of the actions below>",
  "parameters": { ... },
  "description": "<short summary of what will be done>",
  "confidence": <number between 0 and 1>,
  "steps": [ { "action": "...", "parameters": { ... } } ]
}
"steps" is optional and only for commands that clearly need several actions.
`

const parseFooter = `
RESERVED ACTIONS:
- "chat": the user is talking, asking a question or wants an answer in words.
  parameters must be {}.
- "error": the request cannot be mapped to any action. parameters must be {},
  description must say briefly why.

If the meaning is unclear, prefer "error" over guessing.
`

const chatPrompt = `You are %s, a friendly desktop assistant. Answer the user in one to three
short sentences of plain text. No markdown, no lists.`

const rewritePrompt = `You are %s, a desktop assistant with a warm, concise voice.
Rephrase the assistant reply given by the user in that voice. Keep every fact,
number, path and name exactly. Reply with the rephrased text only.`

func buildParsePrompt(catalog []registry.Entry) string {
	var b strings.Builder
	b.WriteString(parseHeader)
	b.WriteString("\nACTIONS:\n")
	for _, e := range catalog {
		desc := e.Schema.Description
		if desc == "" {
			desc = e.Name
		}
		fmt.Fprintf(&b, "- %q: %s\n", e.Name, desc)
		if len(e.Schema.Params) == 0 {
			b.WriteString("  parameters: none\n")
			continue
		}
		for _, p := range e.Schema.Params {
			b.WriteString("  - ")
			b.WriteString(describeParam(p))
			b.WriteByte('\n')
		}
	}
	b.WriteString(parseFooter)
	return b.String()
}

func describeParam(p registry.Param) string {
	typ := string(p.Type)
	if p.Type == registry.TypeEnum {
		typ = "one of " + strings.Join(p.Enum, "|")
	}

	parts := []string{typ}
	if p.Required {
		parts = append(parts, "required")
	} else {
		parts = append(parts, "optional")
	}
	if p.Default != nil {
		parts = append(parts, fmt.Sprintf("default %v", p.Default))
	}

	s := fmt.Sprintf("%s (%s)", p.Name, strings.Join(parts, ", "))
	if p.Help != "" {
		s += ": " + p.Help
	}
	return s
}

func history(recent []assistant.MemoryTurn) []Turn {
	if len(recent) > recentTurns {
		recent = recent[len(recent)-recentTurns:]
	}
	turns := make([]Turn, 0, len(recent))
	for _, t := range recent {
		turns = append(turns, Turn{User: t.UserText, Assistant: t.ReplyText})
	}
	return turns
}
