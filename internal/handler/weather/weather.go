// Package weather reports the current weather for the configured city from
// the OpenWeatherMap current-weather API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
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
	// DefaultBaseURL is the OpenWeatherMap API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
	DefaultCity    = "Moscow"
	defaultTimeout = 10 * time.Second
)

// Spoken failures.
const (
	ReplyNoKey  = "API ключ для погоды не настроен"
	ReplyFailed = "Не удалось получить данные о погоде"
)

// Option configures a [Handler].
type Option func(*Handler)

// WithBaseURL overrides the API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(h *Handler) { h.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// Handler serves [intent.TagWeather].
type Handler struct {
	apiKey  string
	city    string
	baseURL string
	client  *http.Client
}

// New returns a weather handler. An empty apiKey yields a handler that
// answers every request with [ReplyNoKey].
func New(apiKey, city string, opts ...Option) *Handler {
	if city == "" {
		city = DefaultCity
	}
	h := &Handler{
		apiKey:  apiKey,
		city:    city,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "weather" }

type currentWeather struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Handle implements handler.Handler.
func (h *Handler) Handle(ctx context.Context, _ intent.Intent, _ handler.DialogueContext) (handler.Response, error) {
	if h.apiKey == "" {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyNoKey, errors.New("api key not configured"))
	}

	q := url.Values{}
	q.Set("q", h.city)
	q.Set("appid", h.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "ru")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return handler.Response{}, fmt.Errorf("weather: build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var cw currentWeather
	if err := json.NewDecoder(resp.Body).Decode(&cw); err != nil {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyFailed, fmt.Errorf("decode: %w", err))
	}
	return handler.Response{Text: h.format(cw)}, nil
}

func (h *Handler) format(cw currentWeather) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Погода в городе %s", h.city)
	if len(cw.Weather) > 0 && cw.Weather[0].Description != "" {
		fmt.Fprintf(&b, ": %s", cw.Weather[0].Description)
	}
	fmt.Fprintf(&b, ". Температура %d градусов, ощущается как %d. ", round(cw.Main.Temp), round(cw.Main.FeelsLike))
	fmt.Fprintf(&b, "Влажность %d%%, ветер %s метров в секунду.", cw.Main.Humidity, strconv.FormatFloat(cw.Wind.Speed, 'f', -1, 64))
	return b.String()
}

func round(f float64) int {
	return int(math.Round(f))
}
