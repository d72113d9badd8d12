package stt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		segs []string
		want string
	}{
		{[]string{" BOI,", " open notepad."}, "BOI, open notepad."},
		{[]string{"[BLANK_AUDIO]"}, ""},
		{[]string{"(music)", " what time  is it?"}, "what time is it?"},
		{[]string{"*coughs* stop listening"}, "stop listening"},
		{nil, ""},
	}
	for _, tt := range tests {
		segs := make([]Segment, len(tt.segs))
		for i, s := range tt.segs {
			segs[i] = Segment{Text: s}
		}
		assert.Equal(t, tt.want, Join(segs), tt.segs)
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New("", Options{})
	assert.Error(t, err)

	var tr Transcriber
	_, err = tr.Transcribe(context.Background(), nil)
	assert.Error(t, err)
}
