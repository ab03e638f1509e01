// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultHTTPBase  = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "pcm_16000"

	audioChanBuf = 64
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format. Only raw PCM formats
// ("pcm_16000", "pcm_22050", "pcm_24000", "pcm_44100") are accepted.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURLs overrides the WebSocket and REST endpoints. Used by tests.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	format       audio.Format
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	f, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	p.format = f
	return p, nil
}

// parseOutputFormat maps "pcm_<rate>" to a mono audio format.
func parseOutputFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("unsupported output format %q (want pcm_<rate>)", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("invalid sample rate in output format %q", s)
	}
	return audio.Format{SampleRate: n, Channels: 1}, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "beginning of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the whole text followed
// by the end-of-input marker and streams the decoded PCM back.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Stream, error) {
	if voice.ID == "" {
		return nil, tts.Unavailable("elevenlabs", errors.New("voice.ID must not be empty"))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.Unavailable("elevenlabs", errors.New("nothing to synthesise"))
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, tts.Unavailable("elevenlabs", fmt.Errorf("dial: %w", err))
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	// ElevenLabs requires a single space as the first text value.
	msgs := []any{
		boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		textMessage{Text: text + " "},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		data, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			conn.CloseNow()
			return nil, tts.Unavailable("elevenlabs", fmt.Errorf("send: %w", err))
		}
	}

	stream, w := tts.NewStream(p.format, audioChanBuf)
	go func() {
		err := readAudio(ctx, conn, w)
		if err != nil {
			conn.CloseNow()
		} else {
			conn.Close(websocket.StatusNormalClosure, "done")
		}
		w.Close(err)
	}()
	return stream, nil
}

// readAudio forwards decoded audio frames until the final message arrives or
// the server closes the connection normally.
func readAudio(ctx context.Context, conn *websocket.Conn, w *tts.StreamWriter) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: server error: %s", resp.Error)
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			if !w.Send(ctx, pcm) {
				return ctx.Err()
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

// streamURL constructs the WebSocket URL for a given voice.
func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		p.wsBase, voiceID, p.model, p.outputFormat)
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toProfiles(vr), nil
}

func toProfiles(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}
