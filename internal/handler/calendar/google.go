package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var _ Calendar = (*Google)(nil)

// DefaultCalendarID is the authenticated user's main calendar.
const DefaultCalendarID = "primary"

// GoogleConfig locates the OAuth client secrets and the stored user token.
type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
	TimeZone        string // IANA name sent with every event, e.g. Europe/Moscow
}

// Google is a [Calendar] backed by the Google Calendar API.
type Google struct {
	svc        *gcal.Service
	calendarID string
	timeZone   string
}

// OpenGoogle authenticates with the stored token and builds the service.
// The token is created once with [AuthCodeURL] and [SaveToken].
func OpenGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	oc, err := oauthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	ts := &savingTokenSource{
		base: oc.TokenSource(ctx, tok),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}
	return NewGoogle(ctx, cfg, option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts)))
}

// NewGoogle builds the service from explicit client options.
func NewGoogle(ctx context.Context, cfg GoogleConfig, opts ...option.ClientOption) (*Google, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	g := &Google{svc: svc, calendarID: cfg.CalendarID, timeZone: cfg.TimeZone}
	if g.calendarID == "" {
		g.calendarID = DefaultCalendarID
	}
	return g, nil
}

// Insert implements Calendar.
func (g *Google) Insert(ctx context.Context, ev Event) error {
	body := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: g.timeZone},
		End:         &gcal.EventDateTime{DateTime: ev.End().Format(time.RFC3339), TimeZone: g.timeZone},
	}
	created, err := g.svc.Events.Insert(g.calendarID, body).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("calendar: insert event: %w", err)
	}
	slog.Info("calendar: event created", "id", created.Id, "summary", ev.Summary, "start", ev.Start)
	return nil
}

// Upcoming implements Calendar.
func (g *Google) Upcoming(ctx context.Context, from time.Time, n int) ([]Event, error) {
	res, err := g.svc.Events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		MaxResults(int64(n)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	events := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		ev, err := fromAPI(it)
		if err != nil {
			slog.Warn("calendar: skipping event", "id", it.Id, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func fromAPI(it *gcal.Event) (Event, error) {
	if it.Start == nil {
		return Event{}, errors.New("no start")
	}
	start, err := parseWhen(it.Start)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Summary: it.Summary, Description: it.Description, Start: start}
	if it.End != nil {
		if end, err := parseWhen(it.End); err == nil && end.After(start) {
			ev.Duration = end.Sub(start)
		}
	}
	return ev, nil
}

// parseWhen handles both timed and all-day entries.
func parseWhen(dt *gcal.EventDateTime) (time.Time, error) {
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	return time.Parse(time.DateOnly, dt.Date)
}

// AuthCodeURL returns the consent page URL for the client in credentialsFile.
func AuthCodeURL(credentialsFile string) (string, error) {
	oc, err := oauthConfig(credentialsFile)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL("pivoice", oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// SaveToken exchanges an authorization code and stores the token.
func SaveToken(ctx context.Context, credentialsFile, tokenFile, code string) error {
	oc, err := oauthConfig(credentialsFile)
	if err != nil {
		return err
	}
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("calendar: exchange code: %w", err)
	}
	return writeToken(tokenFile, tok)
}

func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("calendar: read credentials: %w", err)
	}
	oc, err := google.ConfigFromJSON(b, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse credentials: %w", err)
	}
	return oc, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("calendar: parse token: %w", err)
	}
	return &tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("calendar: create token dir: %w", err)
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("calendar: marshal token: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("calendar: write token: %w", err)
	}
	return nil
}

// savingTokenSource persists refreshed tokens so a restart does not need a
// new consent.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := writeToken(s.path, tok); err != nil {
			slog.Warn("calendar: persist refreshed token", "err", err)
		}
	}
	return tok, nil
}
