package handlers

import (
	"context"
	"fmt"
	"strings"

	"boi/internal/assistant"
	"boi/internal/registry"
	"boi/pkg/protocol"
)

// deviceTargets maps a device to the hub shard that drives it.
var deviceTargets = map[string]string{
	"lamp":  "VERTEX",
	"led":   "VERTEX",
	"timer": "VERTEX",
	"alarm": "VERTEX",
}

var deviceSchema = registry.Schema{
	Description: "Switch a smart-home device on or off",
	Params: []registry.Param{
		{Name: "device", Type: registry.TypeEnum, Required: true, Enum: []string{"lamp", "led", "timer", "alarm"}},
		{Name: "state", Type: registry.TypeEnum, Required: true, Enum: []string{"on", "off"}},
	},
}

func deviceControl(d Deps) registry.HandlerFunc {
	return func(ctx context.Context, call registry.Call) assistant.HandlerResult {
		device := stringParam(call.Params, "device")
		state := stringParam(call.Params, "state")

		req := protocol.Frame{
			To:   deviceTargets[device],
			Verb: strings.ToUpper(state),
			Noun: strings.ToUpper(device),
		}
		resp, err := d.Devices.Request(ctx, req)
		if err != nil {
			d.Log.Error("Failed to reach device hub", "device", device, "err", err)
			return assistant.Fail(fmt.Sprintf("Could not reach the %s: %v", device, err))
		}
		if !resp.OK() {
			return assistant.Fail(fmt.Sprintf("The %s refused: %s.", device, strings.ToLower(resp.Noun)))
		}
		return assistant.OK(fmt.Sprintf("Turned the %s %s.", device, state))
	}
}
