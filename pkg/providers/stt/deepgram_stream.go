package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Deepgram model/language tables, ported from
// original_source/crates/owhisper-client/src/adapter/deepgram/mod.rs
// (SPEC_FULL.md §3.1). https://developers.deepgram.com/docs/models-languages-overview

var nova3GeneralLanguages = []string{
	"bg", "ca", "cs", "da", "da-DK", "de", "de-CH", "el", "en", "en-AU", "en-GB", "en-IN", "en-NZ",
	"en-US", "es", "es-419", "et", "fi", "fr", "fr-CA", "hi", "hu", "id", "it", "ja", "ko",
	"ko-KR", "lt", "lv", "ms", "nl", "nl-BE", "no", "pl", "pt", "pt-BR", "pt-PT", "ro", "ru", "sk",
	"sv", "sv-SE", "tr", "uk", "vi",
}

var nova2GeneralLanguages = []string{
	"bg", "ca", "cs", "da", "da-DK", "de", "de-CH", "el", "en", "en-AU", "en-GB", "en-IN", "en-NZ",
	"en-US", "es", "es-419", "et", "fi", "fr", "fr-CA", "hi", "hu", "id", "it", "ja", "ko",
	"ko-KR", "lt", "lv", "ms", "nl", "nl-BE", "no", "pl", "pt", "pt-BR", "pt-PT", "ro", "ru", "sk",
	"sv", "sv-SE", "th", "th-TH", "tr", "uk", "vi", "zh", "zh-CN", "zh-HK", "zh-Hans", "zh-Hant",
	"zh-TW",
}

var nova3MedicalLanguages = []string{
	"en", "en-AU", "en-CA", "en-GB", "en-IE", "en-IN", "en-NZ", "en-US",
}

var deepgramEnglishOnly = []string{"en", "en-US"}

// DeepgramModel is a recognized Deepgram live model tier.
type DeepgramModel string

const (
	DeepgramNova3General    DeepgramModel = "nova-3"
	DeepgramNova3Medical    DeepgramModel = "nova-3-medical"
	DeepgramNova2General    DeepgramModel = "nova-2"
	DeepgramNova2Specialized DeepgramModel = "nova-2-specialized"
)

// nova2SpecializedAliases are model strings that resolve to the
// English-only specialized tier.
var nova2SpecializedAliases = map[string]bool{
	"nova-2-meeting": true, "nova-2-phonecall": true, "nova-2-finance": true,
	"nova-2-conversationalai": true, "nova-2-voicemail": true, "nova-2-video": true,
	"nova-2-medical": true, "nova-2-drivethru": true, "nova-2-automotive": true,
	"nova-2-atc": true,
}

// ParseDeepgramModel resolves a model string to a DeepgramModel, defaulting
// to DeepgramNova3General for unknown/empty input.
func ParseDeepgramModel(model string) DeepgramModel {
	switch model {
	case "nova-3", "nova-3-general":
		return DeepgramNova3General
	case "nova-3-medical":
		return DeepgramNova3Medical
	case "nova-2", "nova-2-general":
		return DeepgramNova2General
	case "":
		return DeepgramNova3General
	default:
		if nova2SpecializedAliases[model] {
			return DeepgramNova2Specialized
		}
		return DeepgramNova3General
	}
}

// SupportedLanguages returns the model's supported-language table.
func (m DeepgramModel) SupportedLanguages() []string {
	switch m {
	case DeepgramNova3General:
		return nova3GeneralLanguages
	case DeepgramNova3Medical:
		return nova3MedicalLanguages
	case DeepgramNova2General:
		return nova2GeneralLanguages
	case DeepgramNova2Specialized:
		return deepgramEnglishOnly
	default:
		return nova3GeneralLanguages
	}
}

func (m DeepgramModel) supportsLanguage(lang string) bool {
	for _, l := range m.SupportedLanguages() {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// BestDeepgramModel mirrors DeepgramModel::best_for_languages: the first
// tier (in nova-3-general, nova-3-medical, nova-2-general order) that
// supports the primary requested language.
func BestDeepgramModel(languages []string) (DeepgramModel, bool) {
	if len(languages) == 0 {
		return "", false
	}
	primary := languages[0]
	for _, m := range []DeepgramModel{DeepgramNova3General, DeepgramNova3Medical, DeepgramNova2General} {
		if m.supportsLanguage(primary) {
			return m, true
		}
	}
	return "", false
}

// DeepgramStreamAdapter is the streaming-capable Deepgram adapter for the
// C3 contract.
type DeepgramStreamAdapter struct {
	wsHost string
	apiKey string
}

// NewDeepgramStreamAdapter builds the adapter; apiKey may be empty if the
// caller will supply BuildAuthHeader's value from the environment later.
func NewDeepgramStreamAdapter(apiKey string) *DeepgramStreamAdapter {
	return &DeepgramStreamAdapter{wsHost: "api.deepgram.com", apiKey: apiKey}
}

func (a *DeepgramStreamAdapter) ProviderName() string { return "deepgram" }

func (a *DeepgramStreamAdapter) IsSupportedLanguages(langs []string, model string) bool {
	if len(langs) == 0 {
		return true
	}
	var m DeepgramModel
	if model != "" {
		m = ParseDeepgramModel(model)
	} else {
		best, ok := BestDeepgramModel(langs)
		if !ok {
			return false
		}
		m = best
	}
	for _, l := range langs {
		if !m.supportsLanguage(l) {
			return false
		}
	}
	return true
}

func (a *DeepgramStreamAdapter) SupportsNativeMultichannel() bool { return true }

func (a *DeepgramStreamAdapter) PrefersNativeMultichannel(mode ChannelMode) bool {
	// Deepgram's live API accepts a `channels` query parameter and
	// multiplexes both channels over one socket; the adapter always
	// prefers that over opening two sessions.
	return mode == ChannelMicAndSpeaker
}

func (a *DeepgramStreamAdapter) Auth() ProviderAuth {
	return ProviderAuth{Kind: AuthHeader, HeaderName: "Authorization", HeaderPrefix: "Token "}
}

func (a *DeepgramStreamAdapter) BuildAuthHeader(apiKey string) (string, string, bool) {
	return a.Auth().BuildHeader(apiKey)
}

func (a *DeepgramStreamAdapter) BuildWSURL(params SessionParams, channels int) (string, error) {
	u := url.URL{Scheme: "wss", Host: a.wsHost, Path: "/v1/listen"}
	q := u.Query()

	model := params.Model
	if model == "" {
		if best, ok := BestDeepgramModel(params.Languages); ok {
			model = string(best)
		} else {
			model = string(DeepgramNova3General)
		}
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", nonZeroOr(params.SampleRate, 16000)))
	q.Set("channels", fmt.Sprintf("%d", channels))
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if len(params.Languages) > 0 {
		q.Set("language", params.Languages[0])
	}
	for _, kw := range params.Keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *DeepgramStreamAdapter) BuildWSURLWithAPIKey(ctx context.Context, params SessionParams, channels int) (string, error) {
	// Deepgram uses Header auth; no session-init handshake needed.
	return a.BuildWSURL(params, channels)
}

func (a *DeepgramStreamAdapter) InitialMessage(params SessionParams, channels int) (*OutgoingFrame, error) {
	return nil, nil
}

func (a *DeepgramStreamAdapter) KeepAliveMessage() *OutgoingFrame {
	payload, _ := json.Marshal(map[string]string{"type": "KeepAlive"})
	return &OutgoingFrame{Text: string(payload), IsText: true}
}

func (a *DeepgramStreamAdapter) AudioToMessage(pcm []byte) OutgoingFrame {
	return OutgoingFrame{Binary: pcm}
}

func (a *DeepgramStreamAdapter) FinalizeMessage() *OutgoingFrame {
	payload, _ := json.Marshal(map[string]string{"type": "Finalize"})
	return &OutgoingFrame{Text: string(payload), IsText: true}
}

func (a *DeepgramStreamAdapter) ControlMessageTypes() map[string]bool {
	return map[string]bool{"KeepAlive": true, "CloseStream": true, "Finalize": true}
}

type deepgramFrame struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    *int    `json:"speaker"`
				Language   string  `json:"language"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	ChannelIndex []int   `json:"channel_index"`
	RequestID    string  `json:"request_id"`
	ErrCode      string  `json:"err_code"`
	ErrMsg       string  `json:"err_msg"`
}

func (a *DeepgramStreamAdapter) ParseResponse(raw []byte, isText bool) ([]StreamResponse, error) {
	if !isText {
		return nil, nil
	}

	if env, ok := DetectProviderError(a.ProviderName(), raw); ok {
		return []StreamResponse{env}, nil
	}

	var f deepgramFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("deepgram: parse response: %w", err)
	}

	switch f.Type {
	case "Metadata":
		return []StreamResponse{Terminal{RequestID: f.RequestID, Duration: f.Duration, Channels: len(f.ChannelIndex)}}, nil
	case "Results", "":
		if len(f.Channel.Alternatives) == 0 {
			return nil, nil
		}
		alts := make([]Alternative, len(f.Channel.Alternatives))
		for i, alt := range f.Channel.Alternatives {
			words := make([]Word, len(alt.Words))
			for j, w := range alt.Words {
				words[j] = Word{
					Text: w.Word, Start: w.Start, End: w.End,
					Confidence: w.Confidence, Speaker: w.Speaker, Language: w.Language,
				}
			}
			alts[i] = Alternative{Transcript: alt.Transcript, Confidence: alt.Confidence, Words: NormalizeWords(words)}
		}

		idx := ChannelIndex{Index: 0, Total: 1}
		if len(f.ChannelIndex) == 2 {
			idx = ChannelIndex{Index: f.ChannelIndex[0], Total: f.ChannelIndex[1]}
		}

		return []StreamResponse{Transcript{
			IsFinal: f.IsFinal, SpeechFinal: f.SpeechFinal, FromFinalize: f.FromFinalize,
			Start: f.Start, Duration: f.Duration, Channels: alts, ChannelIndex: idx,
		}}, nil
	default:
		return nil, nil
	}
}

func nonZeroOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
