// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Each utterance is converted to 16 kHz mono, wrapped
// in a WAV container and uploaded as multipart/form-data.
//
// [NativeProvider] links whisper.cpp directly through its CGO bindings and
// avoids the HTTP round trip entirely.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("ru"),
//	)
//	t, err := p.Transcribe(ctx, utterance)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

const (
	defaultLanguage = "ru"
	defaultTimeout  = 30 * time.Second
)

// whisperFormat is the only input format whisper.cpp models accept.
var whisperFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "ru", "en"). Defaults to "ru".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithPrompt sets an initial prompt that biases recognition towards the
// given vocabulary (device names, wake phrases).
func WithPrompt(prompt string) Option {
	return func(p *Provider) {
		p.prompt = prompt
	}
}

// WithTemperature sets the decoding temperature. Zero leaves the server
// default in place.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL   string
	model       string
	language    string
	prompt      string
	temperature float64
	httpClient  *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. whisper.cpp does not report an overall
// confidence, so successful transcripts carry Confidence 1.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}
	pcm := audio.Convert(u.PCM(), u.Format, whisperFormat)
	text, err := p.infer(ctx, pcm)
	if err != nil {
		return stt.Transcript{}, stt.Unavailable("whisper", err)
	}
	return stt.Transcript{
		Text:       strings.TrimSpace(text),
		Confidence: 1,
		Language:   p.language,
		Duration:   u.Duration(),
	}, nil
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data.
func (p *Provider) infer(ctx context.Context, pcm []byte) (string, error) {
	wav, err := audio.EncodeWAV(pcm, whisperFormat)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"language":        p.language,
		"model":           p.model,
		"prompt":          p.prompt,
		"response_format": "json",
	}
	if p.temperature > 0 {
		fields["temperature"] = strconv.FormatFloat(p.temperature, 'f', -1, 64)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	return result.Text, nil
}
