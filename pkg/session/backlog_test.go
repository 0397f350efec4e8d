package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
)

// Entries are stored as int16 PCM, so a sample s comes back as
// int16(s*32767)/32768: 0.25 -> 8191/32768, 0.5 -> 16383/32768,
// 0.75 -> 24575/32768.

func TestAudioBufferPushPopIsFIFO(t *testing.T) {
	b := newAudioBuffer(4)
	b.push([]float32{0.25}, []float32{0.5}, stt.ChannelMicAndSpeaker)
	b.push([]float32{0.75}, []float32{0.5}, stt.ChannelMicAndSpeaker)

	e, ok := b.pop()
	require.True(t, ok)
	require.Equal(t, []float32{8191.0 / 32768}, e.mic)

	e, ok = b.pop()
	require.True(t, ok)
	require.Equal(t, []float32{24575.0 / 32768}, e.mic)

	_, ok = b.pop()
	require.False(t, ok)
}

func TestAudioBufferDropsOldestOnOverflow(t *testing.T) {
	b := newAudioBuffer(2)
	b.push([]float32{0.25}, nil, stt.ChannelMicOnly)
	b.push([]float32{0.5}, nil, stt.ChannelMicOnly)
	overflowed := b.push([]float32{0.75}, nil, stt.ChannelMicOnly)

	require.True(t, overflowed)
	require.Equal(t, 2, b.len())
	e, _ := b.pop()
	require.Equal(t, []float32{16383.0 / 32768}, e.mic, "oldest entry should have been dropped")
}

func TestAudioBufferClearEmptiesEntries(t *testing.T) {
	b := newAudioBuffer(4)
	b.push([]float32{1}, nil, stt.ChannelMicOnly)
	b.clear()
	require.True(t, b.isEmpty())
	require.Equal(t, 0, b.len())
}
