// Package assistant holds the records that flow through the command path:
// utterances in, action records and handler results in the middle, replies and
// memory turns out.
package assistant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
)

type Source string

const (
	SourceText         Source = "text"
	SourceVoice        Source = "voice"
	SourceGestureVoice Source = "gesture-triggered-voice"
)

// Utterance is one natural-language input from a gateway. It is never mutated
// after construction.
type Utterance struct {
	ID         string    `json:"id"`
	Source     Source    `json:"source"`
	RawText    string    `json:"raw_text"`
	ReceivedAt time.Time `json:"received_at"`
}

func NewUtterance(src Source, text string) Utterance {
	return Utterance{
		ID:         xid.New().String(),
		Source:     src,
		RawText:    strings.TrimSpace(text),
		ReceivedAt: time.Now(),
	}
}

// Reserved action names.
const (
	ActionError = "error"
	ActionChat  = "chat"
)

type Step struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ActionRecord is the typed intent produced by the language model.
type ActionRecord struct {
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Steps       []Step         `json:"steps,omitempty"`
}

// ErrorRecord builds the "error" sentinel record.
func ErrorRecord(reason string) ActionRecord {
	if reason == "" {
		reason = "could not understand the command"
	}
	return ActionRecord{
		Action:      ActionError,
		Parameters:  map[string]any{},
		Description: reason,
	}
}

// Check enforces the structural rules of an action record.
func (r ActionRecord) Check() error {
	if strings.TrimSpace(r.Action) == "" {
		return errors.New("missing action")
	}
	if r.Action == ActionError {
		if len(r.Parameters) != 0 {
			return errors.New("error record must not carry parameters")
		}
		if strings.TrimSpace(r.Description) == "" {
			return errors.New("error record must carry a description")
		}
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("confidence %v out of range [0,1]", *r.Confidence)
	}
	for i, s := range r.Steps {
		if strings.TrimSpace(s.Action) == "" {
			return fmt.Errorf("step %d: missing action", i+1)
		}
	}
	return nil
}

// ConfidenceOr returns the record confidence or def when the model gave none.
func (r ActionRecord) ConfidenceOr(def float64) float64 {
	if r.Confidence == nil {
		return def
	}
	return *r.Confidence
}

// HandlerResult is what a handler returns. A failed result is data, not an error.
type HandlerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func OK(msg string) HandlerResult {
	return HandlerResult{Success: true, Message: msg}
}

func Fail(msg string) HandlerResult {
	return HandlerResult{Success: false, Message: msg}
}

type ReplyKind string

const (
	ReplyOK   ReplyKind = "ok"
	ReplyWarn ReplyKind = "warn"
	ReplyErr  ReplyKind = "err"
	ReplyInfo ReplyKind = "info"
)

// Reply is the user-visible outcome of one utterance.
type Reply struct {
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Spoken      bool      `json:"spoken"`
	Kind        ReplyKind `json:"kind"`
}

// ErrorKind is the machine-readable tag attached to failed commands.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindParseUnavailable     ErrorKind = "ParseUnavailable"
	KindParseInvalid         ErrorKind = "ParseInvalid"
	KindUnknownAction        ErrorKind = "UnknownAction"
	KindBadParameters        ErrorKind = "BadParameters"
	KindConfirmationDeclined ErrorKind = "ConfirmationDeclined"
	KindHandlerFailed        ErrorKind = "HandlerFailed"
	KindHandlerCrashed       ErrorKind = "HandlerCrashed"
	KindBusy                 ErrorKind = "Busy"
)

// ReplyKind maps an error kind to how the reply should be rendered.
func (k ErrorKind) ReplyKind() ReplyKind {
	switch k {
	case KindNone:
		return ReplyOK
	case KindConfirmationDeclined, KindBusy:
		return ReplyWarn
	default:
		return ReplyErr
	}
}

// MemoryTurn is one completed exchange kept in conversation memory.
type MemoryTurn struct {
	TS          time.Time `json:"ts"`
	UtteranceID string    `json:"utterance_id"`
	UserText    string    `json:"user_text"`
	ReplyText   string    `json:"reply_text"`
	ActionTaken string    `json:"action_taken"`
	Tags        []string  `json:"tags,omitempty"`
}
