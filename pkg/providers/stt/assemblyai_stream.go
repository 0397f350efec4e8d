package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// AssemblyAIStreamAdapter streams against AssemblyAI's v3 realtime
// websocket for the C3 streaming contract. Auth is a plain header per
// original_source's `Auth::Header { name: "Authorization", prefix: None }`.
type AssemblyAIStreamAdapter struct {
	wsHost string
}

func NewAssemblyAIStreamAdapter() *AssemblyAIStreamAdapter {
	return &AssemblyAIStreamAdapter{wsHost: "streaming.assemblyai.com"}
}

func (a *AssemblyAIStreamAdapter) ProviderName() string { return "assemblyai" }

func (a *AssemblyAIStreamAdapter) IsSupportedLanguages(langs []string, model string) bool {
	if len(langs) == 0 {
		return true
	}
	// AssemblyAI's realtime v3 endpoint is English-only.
	for _, l := range langs {
		if l != "en" && l != "en-US" && l != "en-GB" {
			return false
		}
	}
	return true
}

func (a *AssemblyAIStreamAdapter) SupportsNativeMultichannel() bool { return false }

func (a *AssemblyAIStreamAdapter) PrefersNativeMultichannel(mode ChannelMode) bool { return false }

func (a *AssemblyAIStreamAdapter) Auth() ProviderAuth {
	return ProviderAuth{Kind: AuthHeader, HeaderName: "Authorization"}
}

func (a *AssemblyAIStreamAdapter) BuildAuthHeader(apiKey string) (string, string, bool) {
	return a.Auth().BuildHeader(apiKey)
}

func (a *AssemblyAIStreamAdapter) BuildWSURL(params SessionParams, channels int) (string, error) {
	u := url.URL{Scheme: "wss", Host: a.wsHost, Path: "/v3/ws"}
	q := u.Query()
	q.Set("sample_rate", fmt.Sprintf("%d", nonZeroOr(params.SampleRate, 16000)))
	q.Set("encoding", "pcm_s16le")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *AssemblyAIStreamAdapter) BuildWSURLWithAPIKey(ctx context.Context, params SessionParams, channels int) (string, error) {
	return a.BuildWSURL(params, channels)
}

func (a *AssemblyAIStreamAdapter) InitialMessage(params SessionParams, channels int) (*OutgoingFrame, error) {
	return nil, nil
}

func (a *AssemblyAIStreamAdapter) KeepAliveMessage() *OutgoingFrame { return nil }

func (a *AssemblyAIStreamAdapter) AudioToMessage(pcm []byte) OutgoingFrame {
	return OutgoingFrame{Binary: pcm}
}

func (a *AssemblyAIStreamAdapter) FinalizeMessage() *OutgoingFrame {
	payload, _ := json.Marshal(map[string]string{"type": "Terminate"})
	return &OutgoingFrame{Text: string(payload), IsText: true}
}

func (a *AssemblyAIStreamAdapter) ControlMessageTypes() map[string]bool {
	return map[string]bool{"Terminate": true}
}

type assemblyAIFrame struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	TurnOrder  int    `json:"turn_order"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Words      []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
	Error string `json:"error"`
}

func (a *AssemblyAIStreamAdapter) ParseResponse(raw []byte, isText bool) ([]StreamResponse, error) {
	if !isText {
		return nil, nil
	}
	if env, ok := DetectProviderError(a.ProviderName(), raw); ok {
		return []StreamResponse{env}, nil
	}

	var f assemblyAIFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("assemblyai: parse response: %w", err)
	}
	if f.Type != "Turn" {
		return nil, nil
	}

	words := make([]Word, len(f.Words))
	for i, w := range f.Words {
		words[i] = Word{Text: w.Text, Start: w.Start / 1000, End: w.End / 1000, Confidence: w.Confidence}
	}

	return []StreamResponse{Transcript{
		IsFinal:      f.EndOfTurn,
		SpeechFinal:  f.EndOfTurn,
		Channels:     []Alternative{{Transcript: f.Transcript, Words: NormalizeWords(words)}},
		ChannelIndex: ChannelIndex{Index: 0, Total: 1},
	}}, nil
}
