package gateway

import (
	"context"
	"errors"

	"boi/internal/assistant"
)

var ErrEmpty = errors.New("empty utterance")

// Text submits typed input, one utterance per call.
type Text struct {
	sub     Submitter
	display Display
	confirm Confirmer
}

// NewText builds the text gateway. A nil confirmer declines every
// confirmation.
func NewText(sub Submitter, display Display, confirm Confirmer) *Text {
	if confirm == nil {
		confirm = Always(false)
	}
	return &Text{sub: sub, display: display, confirm: confirm}
}

// Submit sends text to the dispatcher and waits for the reply. confirm
// overrides the gateway's confirmer for this utterance when non-nil.
func (t *Text) Submit(ctx context.Context, text string, confirm Confirmer) (assistant.Reply, error) {
	u := assistant.NewUtterance(assistant.SourceText, text)
	if u.RawText == "" {
		return assistant.Reply{}, ErrEmpty
	}
	if confirm == nil {
		confirm = t.confirm
	}

	t.display.Utterance(u)
	return t.sub.Submit(ctx, &textOrigin{display: t.display, confirm: confirm}, u)
}

type textOrigin struct {
	display Display
	confirm Confirmer
}

func (o *textOrigin) Acknowledge(u assistant.Utterance, text string) {
	o.display.Ack(u, text)
}

func (o *textOrigin) Confirm(ctx context.Context, u assistant.Utterance, rec assistant.ActionRecord) bool {
	return o.confirm.Confirm(ctx, u, rec)
}

func (o *textOrigin) Display(u assistant.Utterance, r assistant.Reply) {
	o.display.Reply(u, r)
}
