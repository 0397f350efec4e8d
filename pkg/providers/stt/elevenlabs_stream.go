package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ElevenLabsStreamAdapter streams against ElevenLabs's realtime
// speech-to-text websocket. Header auth via `xi-api-key`, grounded on
// original_source's `Auth::Header { name: "xi-api-key", prefix: None }`.
type ElevenLabsStreamAdapter struct {
	wsHost string
}

func NewElevenLabsStreamAdapter() *ElevenLabsStreamAdapter {
	return &ElevenLabsStreamAdapter{wsHost: "api.elevenlabs.io"}
}

func (a *ElevenLabsStreamAdapter) ProviderName() string { return "elevenlabs" }

func (a *ElevenLabsStreamAdapter) IsSupportedLanguages(langs []string, model string) bool {
	return true
}

func (a *ElevenLabsStreamAdapter) SupportsNativeMultichannel() bool { return false }

func (a *ElevenLabsStreamAdapter) PrefersNativeMultichannel(mode ChannelMode) bool { return false }

func (a *ElevenLabsStreamAdapter) Auth() ProviderAuth {
	return ProviderAuth{Kind: AuthHeader, HeaderName: "xi-api-key"}
}

func (a *ElevenLabsStreamAdapter) BuildAuthHeader(apiKey string) (string, string, bool) {
	return a.Auth().BuildHeader(apiKey)
}

func (a *ElevenLabsStreamAdapter) BuildWSURL(params SessionParams, channels int) (string, error) {
	u := url.URL{Scheme: "wss", Host: a.wsHost, Path: "/v1/speech-to-text/realtime"}
	q := u.Query()
	if len(params.Languages) > 0 {
		q.Set("language_code", params.Languages[0])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *ElevenLabsStreamAdapter) BuildWSURLWithAPIKey(ctx context.Context, params SessionParams, channels int) (string, error) {
	return a.BuildWSURL(params, channels)
}

func (a *ElevenLabsStreamAdapter) InitialMessage(params SessionParams, channels int) (*OutgoingFrame, error) {
	return nil, nil
}

func (a *ElevenLabsStreamAdapter) KeepAliveMessage() *OutgoingFrame { return nil }

func (a *ElevenLabsStreamAdapter) AudioToMessage(pcm []byte) OutgoingFrame {
	return OutgoingFrame{Binary: pcm}
}

func (a *ElevenLabsStreamAdapter) FinalizeMessage() *OutgoingFrame {
	payload, _ := json.Marshal(map[string]string{"type": "commit"})
	return &OutgoingFrame{Text: string(payload), IsText: true}
}

func (a *ElevenLabsStreamAdapter) ControlMessageTypes() map[string]bool {
	return map[string]bool{"commit": true}
}

type elevenLabsFrame struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
	Words      []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func (a *ElevenLabsStreamAdapter) ParseResponse(raw []byte, isText bool) ([]StreamResponse, error) {
	if !isText {
		return nil, nil
	}
	if env, ok := DetectProviderError(a.ProviderName(), raw); ok {
		return []StreamResponse{env}, nil
	}

	var f elevenLabsFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("elevenlabs: parse response: %w", err)
	}
	if f.Type != "transcript" {
		return nil, nil
	}

	words := make([]Word, len(f.Words))
	for i, w := range f.Words {
		words[i] = Word{Text: w.Text, Start: w.Start, End: w.End}
	}

	return []StreamResponse{Transcript{
		IsFinal:      f.IsFinal,
		FromFinalize: f.IsFinal,
		Channels:     []Alternative{{Transcript: f.Transcript, Words: NormalizeWords(words)}},
		ChannelIndex: ChannelIndex{Index: 0, Total: 1},
	}}, nil
}
