package stt

import "strings"

// NormalizeWord clamps a provider-reported word into the invariants
// spec.md §4.3 requires: non-negative, non-decreasing timestamps. When the
// word carries a speaker, its language tag is also whitespace-trimmed.
// Speaker labels are already integers here; their provider-specific
// prefixes are stripped earlier, by ParseSpeakerLabel.
func NormalizeWord(w Word) Word {
	if w.Start < 0 {
		w.Start = 0
	}
	if w.End < w.Start {
		w.End = w.Start
	}
	if w.Speaker != nil {
		w.Language = strings.TrimSpace(w.Language)
	}
	return w
}

// NormalizeWords applies NormalizeWord across a segment and clamps
// monotonicity across consecutive words within the same channel (spec.md
// §8's response-offset monotonicity property starts from per-provider
// output that is already internally ordered; this guards against a
// provider emitting an out-of-order correction word).
func NormalizeWords(words []Word) []Word {
	out := make([]Word, len(words))
	last := 0.0
	for i, w := range words {
		nw := NormalizeWord(w)
		if nw.Start < last {
			nw.Start = last
			if nw.End < nw.Start {
				nw.End = nw.Start
			}
		}
		last = nw.Start
		out[i] = nw
	}
	return out
}

// stripSpeakerPrefix removes common provider speaker-label prefixes
// ("Speaker ", "speaker_", "spk_", "SPEAKER_") before the label is parsed
// into an integer.
func stripSpeakerPrefix(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{"Speaker ", "speaker_", "spk_", "SPEAKER_"} {
		if strings.HasPrefix(raw, prefix) {
			return strings.TrimPrefix(raw, prefix)
		}
	}
	return raw
}

// ParseSpeakerLabel converts a provider-specific speaker label into the
// normalized integer form spec.md's data model calls for, returning
// ok=false if it can't be parsed as an identifier.
func ParseSpeakerLabel(raw string) (int, bool) {
	raw = stripSpeakerPrefix(raw)
	n := 0
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
