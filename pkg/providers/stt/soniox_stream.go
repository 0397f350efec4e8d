package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// SonioxStreamAdapter streams against Soniox's real-time websocket API.
// Auth flows through the first JSON frame (FirstMessage), grounded on
// original_source/crates/owhisper-client/src/providers.rs's
// `Auth::FirstMessage { field_name: "api_key" }` for Soniox.
type SonioxStreamAdapter struct {
	wsHost string
}

func NewSonioxStreamAdapter() *SonioxStreamAdapter {
	return &SonioxStreamAdapter{wsHost: "stt-rt.soniox.com"}
}

func (a *SonioxStreamAdapter) ProviderName() string { return "soniox" }

func (a *SonioxStreamAdapter) IsSupportedLanguages(langs []string, model string) bool {
	// Soniox's universal model supports auto language ID; any requested
	// set is accepted.
	return true
}

func (a *SonioxStreamAdapter) SupportsNativeMultichannel() bool { return false }

func (a *SonioxStreamAdapter) PrefersNativeMultichannel(mode ChannelMode) bool { return false }

func (a *SonioxStreamAdapter) Auth() ProviderAuth {
	return ProviderAuth{Kind: AuthFirstMessage, FirstMessageField: "api_key"}
}

func (a *SonioxStreamAdapter) BuildAuthHeader(apiKey string) (string, string, bool) {
	return "", "", false
}

func (a *SonioxStreamAdapter) BuildWSURL(params SessionParams, channels int) (string, error) {
	u := url.URL{Scheme: "wss", Host: a.wsHost, Path: "/transcribe-websocket"}
	return u.String(), nil
}

func (a *SonioxStreamAdapter) BuildWSURLWithAPIKey(ctx context.Context, params SessionParams, channels int) (string, error) {
	return a.BuildWSURL(params, channels)
}

func (a *SonioxStreamAdapter) InitialMessage(params SessionParams, channels int) (*OutgoingFrame, error) {
	payload := map[string]any{
		"model":       nonEmptyOr(params.Model, "stt-rt-preview"),
		"sample_rate": nonZeroOr(params.SampleRate, 16000),
		"num_channels": channels,
	}
	if len(params.Languages) > 0 {
		payload["language_hints"] = params.Languages
	}
	// The api_key field is not set here. relay.Proxy can add it through
	// Config.FirstMessageTransformer; the session listener (C6) dials the
	// provider directly and sends this frame without an api_key.
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutgoingFrame{Text: string(data), IsText: true}, nil
}

func (a *SonioxStreamAdapter) KeepAliveMessage() *OutgoingFrame {
	payload, _ := json.Marshal(map[string]string{"type": "keepalive"})
	return &OutgoingFrame{Text: string(payload), IsText: true}
}

func (a *SonioxStreamAdapter) AudioToMessage(pcm []byte) OutgoingFrame {
	return OutgoingFrame{Binary: pcm}
}

func (a *SonioxStreamAdapter) FinalizeMessage() *OutgoingFrame {
	payload, _ := json.Marshal(map[string]string{"type": "finalize"})
	return &OutgoingFrame{Text: string(payload), IsText: true}
}

func (a *SonioxStreamAdapter) ControlMessageTypes() map[string]bool {
	return map[string]bool{"keepalive": true, "finalize": true}
}

type sonioxToken struct {
	Text       string  `json:"text"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker"`
	Language   string  `json:"language"`
	IsFinal    bool    `json:"is_final"`
}

type sonioxFrame struct {
	Tokens       []sonioxToken `json:"tokens"`
	FinalAudioProcMs int       `json:"final_audio_proc_ms"`
	ErrorCode    string        `json:"error_code"`
	ErrorMessage string        `json:"error_message"`
}

func (a *SonioxStreamAdapter) ParseResponse(raw []byte, isText bool) ([]StreamResponse, error) {
	if !isText {
		return nil, nil
	}
	if env, ok := DetectProviderError(a.ProviderName(), raw); ok {
		return []StreamResponse{env}, nil
	}

	var f sonioxFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("soniox: parse response: %w", err)
	}
	if len(f.Tokens) == 0 {
		return nil, nil
	}

	var transcript string
	words := make([]Word, 0, len(f.Tokens))
	allFinal := true
	for _, tok := range f.Tokens {
		transcript += tok.Text
		speaker, ok := ParseSpeakerLabel(tok.Speaker)
		var sp *int
		if ok {
			sp = &speaker
		}
		words = append(words, Word{
			Text: tok.Text, Start: float64(tok.StartMs) / 1000, End: float64(tok.EndMs) / 1000,
			Confidence: tok.Confidence, Speaker: sp, Language: tok.Language,
		})
		if !tok.IsFinal {
			allFinal = false
		}
	}

	return []StreamResponse{Transcript{
		IsFinal:      allFinal,
		Channels:     []Alternative{{Transcript: transcript, Words: NormalizeWords(words)}},
		ChannelIndex: ChannelIndex{Index: 0, Total: 1},
	}}, nil
}

func nonEmptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
