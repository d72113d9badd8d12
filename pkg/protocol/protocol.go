// Package protocol implements the colon-framed device protocol spoken by the
// device hub:
//
//	TO:VERB:NOUN[:ARG...]:FROM
//
// Frames are single-line and every field is a token of [A-Za-z0-9_.-].
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Broadcast addresses every shard on the hub.
const Broadcast = "ALL"

var ErrEmpty = errors.New("empty frame")

type Frame struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

// Parse decodes one frame. Verb and noun are upper-cased.
func Parse(line string) (*Frame, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, ErrEmpty
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return nil, errors.New("whitespace inside frame")
	}

	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	f := &Frame{
		To:   parts[0],
		Verb: strings.ToUpper(parts[1]),
		Noun: strings.ToUpper(parts[2]),
		Args: append([]string(nil), parts[3:len(parts)-1]...),
		From: parts[len(parts)-1],
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that every field is a legal token.
func (f *Frame) Validate() error {
	if !isToken(f.To) && !isHexID(f.To) && f.To != Broadcast {
		return fmt.Errorf("invalid TO token: %q", f.To)
	}
	if !isToken(f.From) && !isHexID(f.From) {
		return fmt.Errorf("invalid FROM token: %q", f.From)
	}
	if !isToken(f.Verb) || !isToken(f.Noun) {
		return fmt.Errorf("invalid NOUN/VERB: %q %q", f.Noun, f.Verb)
	}
	for i, a := range f.Args {
		if !isToken(a) {
			return fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}
	return nil
}

func (f *Frame) String() string {
	parts := make([]string, 0, 4+len(f.Args))
	parts = append(parts, f.To, f.Verb, f.Noun)
	parts = append(parts, f.Args...)
	parts = append(parts, f.From)
	return strings.Join(parts, ":")
}

// OK reports whether the frame is a positive acknowledgement.
func (f *Frame) OK() bool {
	return f.Verb == "OK"
}

// Reply builds the answer to f, addressed back to its sender.
func (f *Frame) Reply(from string, ok bool, noun string, args ...string) *Frame {
	verb := "ERR"
	if ok {
		verb = "OK"
	}
	return &Frame{To: f.From, Verb: verb, Noun: noun, Args: args, From: from}
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}
