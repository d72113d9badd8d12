package persona

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func at(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 10, 18, hour, 0, 0, 0, time.Local)
	}
}

func TestWrapIsDeterministic(t *testing.T) {
	p := New(Config{Enabled: true})
	a := p.WrapOK("Saved to /tmp/s.png")
	b := p.WrapOK("Saved to /tmp/s.png")

	assert.Equal(t, a, b)
	assert.Contains(t, a, "Saved to /tmp/s.png")
	assert.Contains(t, p.WrapErr("disk full"), "disk full")
}

func TestDisabledReturnsRaw(t *testing.T) {
	p := New(Config{Enabled: false})
	assert.Equal(t, "raw", p.WrapOK("raw"))
	assert.Equal(t, "raw", p.WrapErr("raw"))
	assert.Equal(t, "raw", p.WrapInfo("raw"))
	assert.Equal(t, "Received.", p.Acknowledge("anything"))
}

func TestBriefDropsEncouragement(t *testing.T) {
	long := strings.Repeat("result ", 10)
	full := New(Config{Enabled: true}).WrapOK(long)
	brief := New(Config{Enabled: true, Brief: true}).WrapOK(long)

	assert.Greater(t, len(full), len(brief))
	assert.True(t, strings.HasSuffix(brief, strings.TrimSpace(long)))
}

func TestRepeatedErrorEscalates(t *testing.T) {
	p := New(Config{Enabled: true})
	first := p.WrapErrStreak("no network", 1)
	second := p.WrapErrStreak("no network", 2)

	assert.NotEqual(t, first, second)
	found := false
	for _, ph := range repeatedErrorPhrases {
		if strings.HasPrefix(second, ph) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGreetByDayPart(t *testing.T) {
	assert.Contains(t, New(Config{Enabled: true}).WithClock(at(8)).Greet(), "Good morning")
	assert.Contains(t, New(Config{Enabled: true}).WithClock(at(14)).Greet(), "Good afternoon")

	p := New(Config{Enabled: true, Name: "BOI", UserName: "Sam"}).WithClock(at(22))
	g := p.Greet()
	assert.Equal(t, "Good evening, Sam! BOI here, ready when you are.", g)
	assert.Equal(t, g, p.Greet())
}

func TestAcknowledgeTruncates(t *testing.T) {
	p := New(Config{Enabled: true})
	ack := p.Acknowledge(strings.Repeat("x", 100))
	assert.Contains(t, ack, "...")
	assert.Less(t, len(ack), 100)
}

func TestAcknowledgeTruncatesOnRunes(t *testing.T) {
	p := New(Config{Enabled: true})
	ack := p.Acknowledge(strings.Repeat("é", 100))
	assert.True(t, utf8.ValidString(ack), ack)
	assert.Contains(t, ack, strings.Repeat("é", 57)+"...")
	assert.NotContains(t, ack, strings.Repeat("é", 58))
}
