package session

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"

	"github.com/lokutor-ai/meetingcap/pkg/audio"
	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
)

// backlogRingCapacity bounds the byte-level ring store backing audioBuffer.
// Sized well above what MaxBufferChunks entries could realistically hold so
// the logical drop-oldest-by-count policy in push is always the limiting
// factor, not a ring-buffer write failure.
const backlogRingCapacity = 8 << 20 // 8 MiB

type backlogEntry struct {
	mic, spk []float32
	mode     stt.ChannelMode
}

// audioBuffer is the bounded backlog ring C5 fills while the listener is
// absent (spec.md §4.5 point 5), grounded on
// original_source/plugins/listener/src/actors/source/pipeline.rs's
// AudioBuffer. Entries are quantized to int16 PCM and length-prefixed into
// a smallnest/ringbuffer byte ring rather than kept as a growing slice of
// float32 slices — the same quantization the recorder/listener sinks apply
// to every chunk anyway, so nothing downstream loses precision it wouldn't
// already lose.
type audioBuffer struct {
	ring    *ringbuffer.RingBuffer
	count   int
	maxSize int
}

func newAudioBuffer(maxSize int) *audioBuffer {
	return &audioBuffer{ring: ringbuffer.New(backlogRingCapacity), maxSize: maxSize}
}

func (b *audioBuffer) push(mic, spk []float32, mode stt.ChannelMode) (overflowed bool) {
	if b.count >= b.maxSize {
		b.pop()
		overflowed = true
	}
	b.writeEntry(mic, spk, mode)
	b.count++
	return overflowed
}

func (b *audioBuffer) pop() (backlogEntry, bool) {
	if b.count == 0 {
		return backlogEntry{}, false
	}
	e := b.readEntry()
	b.count--
	return e, true
}

func (b *audioBuffer) len() int      { return b.count }
func (b *audioBuffer) isEmpty() bool { return b.count == 0 }

func (b *audioBuffer) clear() {
	b.ring.Reset()
	b.count = 0
}

// writeEntry serializes one pair as:
//
//	[4B frame length][1B mode][4B mic sample count][mic int16 LE]
//	[4B spk sample count][spk int16 LE]
func (b *audioBuffer) writeEntry(mic, spk []float32, mode stt.ChannelMode) {
	micI16 := audio.F32ToInt16(mic)
	spkI16 := audio.F32ToInt16(spk)

	micBlockLen := 4 + len(micI16)*2
	frame := make([]byte, 1+micBlockLen+4+len(spkI16)*2)
	frame[0] = byte(mode)
	putInt16Block(frame[1:1+micBlockLen], micI16)
	putInt16Block(frame[1+micBlockLen:], spkI16)

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(frame)))
	b.ring.Write(header)
	b.ring.Write(frame)
}

// putInt16Block writes a [4B count][int16 LE samples...] block into dst.
func putInt16Block(dst []byte, samples []int16) {
	binary.BigEndian.PutUint32(dst, uint32(len(samples)))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[4+i*2:], uint16(s))
	}
}

func (b *audioBuffer) readEntry() backlogEntry {
	header := make([]byte, 4)
	readFullFromRing(b.ring, header)
	n := binary.BigEndian.Uint32(header)

	frame := make([]byte, n)
	readFullFromRing(b.ring, frame)

	mode := stt.ChannelMode(frame[0])
	micI16, rest := readInt16Block(frame[1:])
	spkI16, _ := readInt16Block(rest)

	return backlogEntry{mic: int16ToF32(micI16), spk: int16ToF32(spkI16), mode: mode}
}

func readInt16Block(src []byte) (samples []int16, rest []byte) {
	count := binary.BigEndian.Uint32(src)
	samples = make([]int16, count)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(src[4+i*2:]))
	}
	return samples, src[4+int(count)*2:]
}

func readFullFromRing(r *ringbuffer.RingBuffer, buf []byte) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil && n == 0 {
			return
		}
	}
}

func int16ToF32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
