package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"boi/internal/assistant"
)

// Desktop shows replies as desktop notifications through notify-send.
type Desktop struct {
	app string
	log *slog.Logger
	run func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(app string, log *slog.Logger) *Desktop {
	if app == "" {
		app = "BOI"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Desktop{app: app, log: log, run: runCmd}
}

func runCmd(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (d *Desktop) Utterance(assistant.Utterance) {}

func (d *Desktop) Ack(assistant.Utterance, string) {}

func (d *Desktop) Reply(u assistant.Utterance, r assistant.Reply) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.run(ctx, "notify-send", d.args(r)...); err != nil {
		d.log.Debug("Failed to notify", "utterance", u.ID, "err", err)
	}
}

func (d *Desktop) args(r assistant.Reply) []string {
	urgency := "normal"
	switch r.Kind {
	case assistant.ReplyErr:
		urgency = "critical"
	case assistant.ReplyInfo:
		urgency = "low"
	}
	return []string{"--app-name", d.app, "--urgency", urgency, d.app, r.Text}
}
