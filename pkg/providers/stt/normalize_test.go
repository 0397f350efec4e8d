package stt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeWordClampsNegativeStart(t *testing.T) {
	w := NormalizeWord(Word{Text: "hi", Start: -1, End: 0.5})
	require.Equal(t, 0.0, w.Start)
}

func TestNormalizeWordClampsEndBeforeStart(t *testing.T) {
	w := NormalizeWord(Word{Text: "hi", Start: 1.0, End: 0.2})
	require.Equal(t, w.Start, w.End)
}

func TestNormalizeWordsEnforcesMonotonicity(t *testing.T) {
	words := []Word{
		{Text: "a", Start: 1.0, End: 1.2},
		{Text: "b", Start: 0.5, End: 0.9}, // out of order
	}
	out := NormalizeWords(words)
	require.GreaterOrEqual(t, out[1].Start, out[0].Start)
}

func TestParseSpeakerLabelStripsPrefix(t *testing.T) {
	n, ok := ParseSpeakerLabel("Speaker 2")
	require.True(t, ok)
	require.Equal(t, 2, n)

	n, ok = ParseSpeakerLabel("spk_3")
	require.True(t, ok)
	require.Equal(t, 3, n)
}

func TestParseSpeakerLabelRejectsNonNumeric(t *testing.T) {
	_, ok := ParseSpeakerLabel("unknown")
	require.False(t, ok)
}
