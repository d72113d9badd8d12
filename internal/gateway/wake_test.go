package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchWake(t *testing.T) {
	words := []string{"boi", "hey assistant"}

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"BOI  what time is it", "what time is it", true},
		{"BOI open notepad", "open notepad", true},
		{"boi, open   the   door", "open the door", true},
		{"Hey Assistant: play music", "play music", true},
		{"  boi ! lights on", "lights on", true},
		{"boi", "", false},
		{"boi?", "", false},
		{"boiler on", "", false},
		{"hello boi open notepad", "", false},
		{"hey there", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := MatchWake(tc.in, words)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestStopPhrases(t *testing.T) {
	assert.True(t, isStopPhrase("Stop listening."))
	assert.True(t, isStopPhrase("disable   voice"))
	assert.False(t, isStopPhrase("stop listening to music"))
}
