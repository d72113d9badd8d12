package handlers

import (
	"context"
	"fmt"
	"strings"

	"boi/internal/assistant"
	"boi/internal/registry"
)

var greetSchema = registry.Schema{
	Description: "Greet the user",
}

func greet(d Deps) registry.HandlerFunc {
	return func(context.Context, registry.Call) assistant.HandlerResult {
		if d.Persona == nil {
			return assistant.OK("Hello!")
		}
		return assistant.OK(d.Persona.Greet())
	}
}

var timeSchema = registry.Schema{
	Description: "Tell the current local time",
	Params: []registry.Param{
		{Name: "format", Type: registry.TypeEnum, Enum: []string{"12h", "24h"}, Default: "12h"},
	},
}

func currentTime(d Deps) registry.HandlerFunc {
	return func(_ context.Context, call registry.Call) assistant.HandlerResult {
		now := d.Clock()
		layout := "3:04 PM"
		if stringParam(call.Params, "format") == "24h" {
			layout = "15:04"
		}
		return assistant.OK(fmt.Sprintf("It's %s on %s.", now.Format(layout), now.Format("Monday, January 2")))
	}
}

var historySchema = registry.Schema{
	Description: "Show the most recent commands and how they went",
	Params: []registry.Param{
		{Name: "count", Type: registry.TypeNumber, Default: 5.0, Help: "how many commands, 1 to 20"},
	},
}

const maxHistory = 20

func showHistory(d Deps) registry.HandlerFunc {
	return func(_ context.Context, call registry.Call) assistant.HandlerResult {
		if d.History == nil {
			return assistant.Fail("History is not available.")
		}
		n := min(max(intParam(call.Params, "count", 5), 1), maxHistory)

		turns := d.History.Recent(n)
		if len(turns) == 0 {
			return assistant.OK("No commands yet.")
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Last %d commands:", len(turns))
		for i, t := range turns {
			fmt.Fprintf(&b, "\n%d. %s [%s]", i+1, t.UserText, t.ActionTaken)
		}

		st := d.History.Stats()
		fmt.Fprintf(&b, "\n%d in memory, %d failed.", st.Turns, st.Errors)
		return assistant.OK(b.String())
	}
}
