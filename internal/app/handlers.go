package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/handler/calendar"
	"github.com/MrWong99/pivoice/internal/handler/chat"
	"github.com/MrWong99/pivoice/internal/handler/news"
	"github.com/MrWong99/pivoice/internal/handler/reminders"
	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/handler/system"
	"github.com/MrWong99/pivoice/internal/handler/weather"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/transcript/phonetic"
)

// DefaultTimeZone is used for spoken dates and calendar events when the
// config names none.
const DefaultTimeZone = "Europe/Moscow"

// initHandlers builds the dispatcher and registers one handler per intent
// tag. Weather, news and calendar register without a backend too and answer
// with their own "unavailable" phrase.
func (a *App) initHandlers(ctx context.Context) error {
	loc, err := location(a.cfg.Calendar.TimeZone)
	if err != nil {
		return err
	}

	opts := []handler.Option{
		handler.WithObserver(func(r handler.Result) {
			status := "ok"
			if r.Err != nil {
				status = "error"
			}
			a.metrics.RecordHandler(context.Background(), string(r.Tag), r.Handler, status, r.Duration)
		}),
	}
	if t := max(a.cfg.Timeouts.Handler, a.cfg.Timeouts.LLM); t > 0 {
		opts = append(opts, handler.WithTimeout(t))
	}
	d := handler.NewDispatcher(opts...)

	dc := a.cfg.Dialogue
	chatHandler, err := chat.New(a.providers.LLM, chat.Config{
		SystemPrompt: dc.SystemPrompt,
		Temperature:  dc.Temperature,
		TopP:         dc.TopP,
		MaxTokens:    dc.MaxTokens,
	})
	if err != nil {
		return err
	}

	home, err := a.smartHome()
	if err != nil {
		return err
	}
	cal, err := a.calendar(ctx)
	if err != nil {
		return err
	}

	wc, nc := a.cfg.Weather, a.cfg.News
	var weatherOpts []weather.Option
	if wc.BaseURL != "" {
		weatherOpts = append(weatherOpts, weather.WithBaseURL(wc.BaseURL))
	}
	newsOpts := []news.Option{news.WithCountry(nc.Country), news.WithMaxArticles(nc.MaxArticles)}
	if nc.BaseURL != "" {
		newsOpts = append(newsOpts, news.WithBaseURL(nc.BaseURL))
	}
	if t := a.cfg.Timeouts.Handler; t > 0 {
		weatherOpts = append(weatherOpts, weather.WithTimeout(t))
		newsOpts = append(newsOpts, news.WithTimeout(t))
	}

	calOpts := []calendar.Option{calendar.WithClock(a.now), calendar.WithLocation(loc)}
	if ev := a.cfg.Calendar.EventDuration; ev > 0 {
		calOpts = append(calOpts, calendar.WithDuration(ev))
	}

	remOpts := []reminders.Option{reminders.WithClock(a.now)}
	if n := a.cfg.Reminders.ListLimit; n > 0 {
		remOpts = append(remOpts, reminders.WithListLimit(n))
	}

	table := map[intent.Tag]handler.Handler{
		intent.TagChat:      chatHandler,
		intent.TagWeather:   weather.New(wc.APIKey, wc.City, weatherOpts...),
		intent.TagNews:      news.New(nc.APIKey, newsOpts...),
		intent.TagReminder:  reminders.New(a.scheduler, remOpts...),
		intent.TagCalendar:  calendar.New(cal, calOpts...),
		intent.TagSystem:    system.New(system.WithClock(a.now), system.WithLocation(loc)),
	}
	// Without a backend smart home requests get the dispatcher's
	// "no handler" answer.
	if home != nil {
		table[intent.TagSmartHome] = smartHomeHandler(home, a.cfg.SmartHome, a.cfg.Wake)
	}
	for tag, h := range table {
		if err := d.Register(tag, h); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	a.dispatcher = d
	return nil
}

// smartHome returns the injected controller or creates the configured one.
func (a *App) smartHome() (smarthome.Controller, error) {
	if a.home != nil {
		return a.home, nil
	}
	sc := a.cfg.SmartHome
	if sc.Backend == config.SmartHomeNone {
		return nil, nil
	}
	ctrl, err := a.registry.CreateSmartHome(sc)
	if err != nil {
		return nil, fmt.Errorf("smart home %q: %w", sc.Backend, err)
	}
	if c, ok := ctrl.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Info("smart home connected", "backend", sc.Backend)
	a.home = ctrl
	return ctrl, nil
}

// calendar returns the injected backend or opens Google Calendar when
// credentials are configured. A failure to open is logged, not fatal: the
// handler then answers that the calendar is unavailable.
func (a *App) calendar(ctx context.Context) (calendar.Calendar, error) {
	if a.cal != nil {
		return a.cal, nil
	}
	cc := a.cfg.Calendar
	if cc.CredentialsFile == "" {
		return nil, nil
	}
	tz := cc.TimeZone
	if tz == "" {
		tz = DefaultTimeZone
	}
	g, err := calendar.OpenGoogle(ctx, calendar.GoogleConfig{
		CredentialsFile: cc.CredentialsFile,
		TokenFile:       cc.TokenFile,
		CalendarID:      cc.CalendarID,
		TimeZone:        tz,
	})
	if err != nil {
		slog.Warn("calendar unavailable", "err", err)
		return nil, nil
	}
	a.cal = g
	return g, nil
}

// smartHomeHandler wires ctrl into the smart home handler. Device names
// are matched with the same thresholds as the wake phrases.
func smartHomeHandler(ctrl smarthome.Controller, sc config.SmartHomeConfig, wc config.WakeConfig) *smarthome.Handler {
	var matchOpts []phonetic.Option
	if wc.PhoneticThreshold > 0 {
		matchOpts = append(matchOpts, phonetic.WithPhoneticThreshold(wc.PhoneticThreshold))
	}
	if wc.FuzzyThreshold > 0 {
		matchOpts = append(matchOpts, phonetic.WithFuzzyThreshold(wc.FuzzyThreshold))
	}
	opts := []smarthome.Option{smarthome.WithMatcher(phonetic.New(matchOpts...))}

	if len(sc.Devices) > 0 {
		opts = append(opts, smarthome.WithDevices(sc.Devices...))
	}
	return smarthome.New(ctrl, opts...)
}

func location(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", name, err)
	}
	return loc, nil
}
