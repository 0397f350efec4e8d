package session

import "github.com/lokutor-ai/meetingcap/pkg/providers/stt"

// joiner pairs mic and speaker chunks into JoinedPairs per spec.md §4.5
// point 2-3, grounded on
// original_source/plugins/listener/src/actors/source/pipeline.rs's
// Joiner (mic/spk deques, MAX_LAG/MAX_QUEUE_SIZE, a cached-silence pool
// keyed by chunk length).
type joiner struct {
	mic [][]float32
	spk [][]float32

	silenceCache map[int][]float32
}

func newJoiner() *joiner {
	return &joiner{silenceCache: make(map[int][]float32)}
}

func (j *joiner) reset() {
	j.mic = j.mic[:0]
	j.spk = j.spk[:0]
}

func (j *joiner) micLen() int { return len(j.mic) }
func (j *joiner) spkLen() int { return len(j.spk) }

func (j *joiner) silence(n int) []float32 {
	s, ok := j.silenceCache[n]
	if !ok {
		s = make([]float32, n)
		j.silenceCache[n] = s
	}
	return s
}

func (j *joiner) pushMic(data []float32) (overflowed bool) {
	j.mic = append(j.mic, data)
	if len(j.mic) > MaxQueueSize {
		j.mic = j.mic[1:]
		return true
	}
	return false
}

func (j *joiner) pushSpk(data []float32) (overflowed bool) {
	j.spk = append(j.spk, data)
	if len(j.spk) > MaxQueueSize {
		j.spk = j.spk[1:]
		return true
	}
	return false
}

func (j *joiner) popFrontMic() []float32 {
	d := j.mic[0]
	j.mic = j.mic[1:]
	return d
}

func (j *joiner) popFrontSpk() []float32 {
	d := j.spk[0]
	j.spk = j.spk[1:]
	return d
}

// popPair returns the next JoinedPair for mode, or ok=false if nothing is
// ready yet.
func (j *joiner) popPair(mode stt.ChannelMode) (JoinedPair, bool) {
	if len(j.mic) > 0 && len(j.spk) > 0 {
		return JoinedPair{Mic: j.popFrontMic(), Spk: j.popFrontSpk()}, true
	}

	switch mode {
	case stt.ChannelMicOnly:
		if len(j.mic) > 0 {
			mic := j.popFrontMic()
			return JoinedPair{Mic: mic, Spk: j.silence(len(mic))}, true
		}
	case stt.ChannelSpeakerOnly:
		if len(j.spk) > 0 {
			spk := j.popFrontSpk()
			return JoinedPair{Mic: j.silence(len(spk)), Spk: spk}, true
		}
	case stt.ChannelMicAndSpeaker:
		if len(j.mic) > 0 && len(j.spk) == 0 && len(j.mic) > MaxLag {
			mic := j.popFrontMic()
			return JoinedPair{Mic: mic, Spk: j.silence(len(mic))}, true
		}
		if len(j.spk) > 0 && len(j.mic) == 0 && len(j.spk) > MaxLag {
			spk := j.popFrontSpk()
			return JoinedPair{Mic: j.silence(len(spk)), Spk: spk}, true
		}
	}

	return JoinedPair{}, false
}
