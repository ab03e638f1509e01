// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens one WebSocket session, streams the utterance in
// 100 ms chunks, sends CloseStream and collects every final result until the
// server closes the connection.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "ru"
	chunkDuration    = 100 * time.Millisecond
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Keyword is a vocabulary hint with a provider-specific boost intensity.
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code for recognition (e.g., "ru", "en").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets vocabulary hints sent with every session.
func WithKeywords(kws ...Keyword) Option {
	return func(p *Provider) {
		p.keywords = kws
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []Keyword
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}
	t, err := p.transcribe(ctx, u)
	if err != nil {
		return stt.Transcript{}, stt.Unavailable("deepgram", err)
	}
	return t, nil
}

func (p *Provider) transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	wsURL, err := p.buildURL(u.Format)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.send(ctx, conn, u)
	}()

	var (
		texts []string
		conf  float64
		n     int
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stt.Transcript{}, ctx.Err()
			}
			return stt.Transcript{}, fmt.Errorf("read: %w", err)
		}
		text, c, final, ok := parseDeepgramResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		texts = append(texts, text)
		conf += c
		n++
	}
	if err := <-writeErr; err != nil {
		return stt.Transcript{}, err
	}

	t := stt.Transcript{
		Text:     strings.TrimSpace(strings.Join(texts, " ")),
		Language: p.language,
		Duration: u.Duration(),
	}
	if n > 0 {
		t.Confidence = conf / float64(n)
	}
	return t, nil
}

// send streams the utterance in chunks and asks the server to flush.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, u audio.Utterance) error {
	size := u.Format.Bytes(chunkDuration)
	for chunk := range audio.Chunks(u.PCM(), size) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("write close stream: %w", err)
	}
	return nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given format.
func (p *Provider) buildURL(f audio.Format) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	if f.Channels > 0 {
		q.Set("channels", strconv.Itoa(f.Channels))
	}
	for _, kw := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. ok is false
// when the message should be ignored.
func parseDeepgramResponse(data []byte) (text string, confidence float64, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", 0, false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", 0, false, false
	}
	alt := resp.Channel.Alternatives[0]
	return alt.Transcript, alt.Confidence, resp.IsFinal, true
}
