// Package news reads out top headlines from NewsAPI.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
)

var _ handler.Handler = (*Handler)(nil)

const (
	// DefaultBaseURL is the NewsAPI root.
	DefaultBaseURL     = "https://newsapi.org/v2"
	DefaultCountry     = "ru"
	DefaultMaxArticles = 5
	defaultTimeout     = 10 * time.Second
)

// Spoken replies.
const (
	ReplyNoKey  = "API ключ для новостей не настроен"
	ReplyFailed = "Не удалось получить новости"
	ReplyEmpty  = "Новостей не найдено"
)

// categories maps spoken stems to NewsAPI categories.
var categories = []struct {
	stem, category string
}{
	{"спорт", "sports"},
	{"технолог", "technology"},
	{"бизнес", "business"},
	{"экономик", "business"},
	{"наук", "science"},
	{"здоров", "health"},
	{"медицин", "health"},
	{"развлеч", "entertainment"},
	{"кино", "entertainment"},
}

// Option configures a [Handler].
type Option func(*Handler)

// WithBaseURL overrides the API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(h *Handler) { h.baseURL = strings.TrimRight(u, "/") }
}

// WithCountry sets the ISO country code of the headlines.
func WithCountry(c string) Option {
	return func(h *Handler) {
		if c != "" {
			h.country = c
		}
	}
}

// WithMaxArticles caps the number of headlines read out.
func WithMaxArticles(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.max = n
		}
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// Handler serves [intent.TagNews].
type Handler struct {
	apiKey  string
	baseURL string
	country string
	max     int
	client  *http.Client
}

// New returns a news handler. An empty apiKey yields a handler that answers
// every request with [ReplyNoKey].
func New(apiKey string, opts ...Option) *Handler {
	h := &Handler{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		country: DefaultCountry,
		max:     DefaultMaxArticles,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "news" }

type headlines struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

// Handle implements handler.Handler. A category named in the request
// ("новости спорта") narrows the headlines.
func (h *Handler) Handle(ctx context.Context, in intent.Intent, _ handler.DialogueContext) (handler.Response, error) {
	if h.apiKey == "" {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyNoKey, errors.New("api key not configured"))
	}

	q := url.Values{}
	q.Set("country", h.country)
	q.Set("pageSize", strconv.Itoa(h.max))
	if c := Category(in.Text); c != "" {
		q.Set("category", c)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/top-headlines?"+q.Encode(), nil)
	if err != nil {
		return handler.Response{}, fmt.Errorf("news: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed, fmt.Errorf("read body: %w", err))
	}
	var hl headlines
	if err := json.Unmarshal(body, &hl); err != nil {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed,
			fmt.Errorf("status %d: decode: %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK || hl.Status != "ok" {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed,
			fmt.Errorf("status %d: %s: %s", resp.StatusCode, hl.Code, hl.Message))
	}

	var titles []string
	for _, a := range hl.Articles {
		if t := cleanTitle(a.Title); t != "" {
			titles = append(titles, t)
		}
		if len(titles) == h.max {
			break
		}
	}
	if len(titles) == 0 {
		return handler.Response{Text: ReplyEmpty}, nil
	}

	parts := make([]string, len(titles))
	for i, t := range titles {
		parts[i] = fmt.Sprintf("%d. %s", i+1, t)
	}
	return handler.Response{Text: "Последние новости: " + strings.Join(parts, ". ")}, nil
}

// Category returns the NewsAPI category named in text, or "".
func Category(text string) string {
	lower := strings.ToLower(text)
	for _, c := range categories {
		if strings.Contains(lower, c.stem) {
			return c.category
		}
	}
	return ""
}

// cleanTitle drops the " - Source" suffix NewsAPI appends to titles.
func cleanTitle(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.LastIndex(t, " - "); i > 0 {
		t = t[:i]
	}
	return strings.TrimRight(t, ". ")
}
