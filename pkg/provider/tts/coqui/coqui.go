// Package coqui provides an HTTP TTS provider for locally running speech
// servers. It implements the tts.Provider interface.
//
// Three API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; voice catalogue is retrieved from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is performed via
//     POST /tts_to_audio/ with a JSON body; voice catalogue is retrieved from
//     GET /studio_speakers.
//
//   - APIModePiper: the Piper HTTP server (python -m piper.http_server).
//     Synthesis is performed via POST / with the plain text as body.
//
// All servers answer in batch mode (one WAV per request), so Synthesize
// splits the text into sentences, synthesises the first one before
// returning (a failure there is reported as tts.ErrSynthesisUnavailable) and
// streams the rest with a small lookahead of concurrent requests.
//
// Typical usage:
//
//	p, _ := coqui.New("http://localhost:5000",
//	    coqui.WithAPIMode(coqui.APIModePiper),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	stream, err := p.Synthesize(ctx, "Сейчас 12 часов.", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// ---- constants ----

const (
	defaultLanguage        = "ru"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	piperEndpoint          = "/"

	// sentenceLookaheadBuf controls how many HTTP synthesis requests may be
	// in flight at once.
	sentenceLookaheadBuf = 2

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 64

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

var errEmptyText = errors.New("nothing to synthesise")

// ---- APIMode ----

// APIMode selects which server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"

	// APIModePiper targets the Piper HTTP server (POST /).
	APIModePiper APIMode = "piper"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Defaults to "ru".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a locally running TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a new Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS, APIModePiper:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// ---- internal request/response types ----

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// audioResult carries synthesised PCM or an error from a worker goroutine.
type audioResult struct {
	pcm    []byte
	format audio.Format
	err    error
}

// studioSpeakersResponse is the raw map[name]any returned by GET /studio_speakers.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ---- Synthesize ----

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Stream, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, tts.Unavailable("coqui", errors.New("voice.ID must not be empty in XTTS mode"))
	}
	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, tts.Unavailable("coqui", errEmptyText)
	}

	first, format, err := p.synthesize(ctx, sentences[0], voice)
	if err != nil {
		return nil, tts.Unavailable("coqui", err)
	}

	stream, w := tts.NewStream(format, audioChanBuf)
	go p.streamRest(ctx, w, first, format, sentences[1:], voice)
	return stream, nil
}

// streamRest emits the first sentence and then the remaining ones in order,
// keeping up to sentenceLookaheadBuf requests in flight.
func (p *Provider) streamRest(ctx context.Context, w *tts.StreamWriter, first []byte, format audio.Format, rest []string, voice tts.VoiceProfile) {
	var err error
	defer func() { w.Close(err) }()

	if !sendPCM(ctx, w, first) {
		err = ctx.Err()
		return
	}
	if len(rest) == 0 {
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan audioResult, len(rest))
	for i := range results {
		results[i] = make(chan audioResult, 1)
	}
	sem := make(chan struct{}, sentenceLookaheadBuf)
	go func() {
		for i, s := range rest {
			select {
			case sem <- struct{}{}:
			case <-reqCtx.Done():
				return
			}
			go func() {
				pcm, f, err := p.synthesize(reqCtx, s, voice)
				results[i] <- audioResult{pcm: pcm, format: f, err: err}
			}()
		}
	}()

	for i := range rest {
		var r audioResult
		select {
		case r = <-results[i]:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		<-sem
		if r.err != nil {
			err = r.err
			return
		}
		if !sendPCM(ctx, w, audio.Convert(r.pcm, r.format, format)) {
			err = ctx.Err()
			return
		}
	}
}

// sendPCM emits pcm in fixed-size chunks.
func sendPCM(ctx context.Context, w *tts.StreamWriter, pcm []byte) bool {
	for len(pcm) > 0 {
		end := min(pcmChunkSize, len(pcm))
		if !w.Send(ctx, pcm[:end]) {
			return false
		}
		pcm = pcm[end:]
	}
	return true
}

// synthesize performs one request for the configured API mode and decodes
// the WAV answer.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, audio.Format, error) {
	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		req, err = p.xttsRequest(ctx, sentence, voice)
	case APIModePiper:
		req, err = p.piperRequest(ctx, sentence, voice)
	default:
		req, err = p.standardRequest(ctx, sentence, voice)
	}
	if err != nil {
		return nil, audio.Format{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, audio.Format{}, fmt.Errorf("%s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("read WAV response: %w", err)
	}
	return audio.DecodeWAV(wav)
}

// xttsRequest builds POST /tts_to_audio/ (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       sentence,
		SpeakerWav: voice.ID,
		Language:   p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds GET /api/tts (standard server mode).
func (p *Provider) standardRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	return req, nil
}

// piperRequest builds POST / for the Piper HTTP server. Speaking rate maps
// to Piper's length_scale, which is the inverse of speed.
func (p *Provider) piperRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	u := p.serverURL + piperEndpoint
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		u += "?length_scale=" + strconv.FormatFloat(1/voice.SpeedFactor, 'f', 3, 64)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(sentence))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return req, nil
}

// ---- ListVoices ----

// ListVoices retrieves the list of available voices from the server.
// Piper servers serve a single voice and report it as "default".
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	switch p.apiMode {
	case APIModeXTTS:
		return p.listVoicesXTTS(ctx)
	case APIModePiper:
		return []tts.VoiceProfile{{ID: "default", Name: "default", Provider: "piper"}}, nil
	default:
		return p.listVoicesStandard(ctx)
	}
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// listVoicesXTTS maps GET /studio_speakers entries to voice profiles.
func (p *Provider) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	var raw studioSpeakersResponse
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

// listVoicesStandard returns one profile per speaker for multi-speaker
// models, or a single profile named after the model.
func (p *Provider) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{
			"type":       "single-speaker",
			"model_name": name,
		},
	}}, nil
}
