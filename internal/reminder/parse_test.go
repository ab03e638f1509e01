package reminder_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/internal/reminder"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MSK", 3*60*60)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, loc)

	tests := []struct {
		name    string
		text    string
		wantAt  time.Time
		wantMsg string
	}{
		{"minutes", "Напомни через 10 минут купить молоко", now.Add(10 * time.Minute), "купить молоко"},
		{"hours", "напомни мне через 2 часа позвонить маме", now.Add(2 * time.Hour), "позвонить маме"},
		{"one hour without number", "напомни через час выключить духовку", now.Add(time.Hour), "выключить духовку"},
		{"one minute", "напомни через минуту проверить чайник", now.Add(time.Minute), "проверить чайник"},
		{"seconds", "напомни через 30 секунд тест", now.Add(30 * time.Second), "тест"},
		{"half hour", "напомни через полчаса забрать посылку", now.Add(30 * time.Minute), "забрать посылку"},
		{"time later today", "напомни в 18:30 забрать детей", time.Date(2026, 3, 14, 18, 30, 0, 0, loc), "забрать детей"},
		{"time already passed", "напомни в 9:15 выпить таблетки", time.Date(2026, 3, 15, 9, 15, 0, 0, loc), "выпить таблетки"},
		{"dotted time", "напомни в 20.05 полить цветы", time.Date(2026, 3, 14, 20, 5, 0, 0, loc), "полить цветы"},
		{"tomorrow", "напомни завтра в 08:00 про встречу", time.Date(2026, 3, 15, 8, 0, 0, 0, loc), "встречу"},
		{"tomorrow even if later today", "напомни завтра в 18:00 позвонить", time.Date(2026, 3, 15, 18, 0, 0, 0, loc), "позвонить"},
		{"whole hour", "напомни в 7 часов сделать зарядку", time.Date(2026, 3, 15, 7, 0, 0, 0, loc), "сделать зарядку"},
		{"message first", "напомни купить хлеб через 5 минут", now.Add(5 * time.Minute), "купить хлеб"},
		{"filler words", "напомни, пожалуйста, через 5 минут что пора выходить", now.Add(5 * time.Minute), "пора выходить"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := reminder.ParseRequest(tt.text, now)
			if err != nil {
				t.Fatalf("ParseRequest(%q) error: %v", tt.text, err)
			}
			if got := req.FireAt(now); !got.Equal(tt.wantAt) {
				t.Errorf("FireAt = %v, want %v", got, tt.wantAt)
			}
			if req.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", req.Message, tt.wantMsg)
			}
		})
	}
}

func TestParseRequest_NoTime(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		text    string
		wantMsg string
	}{
		{"напомни купить молоко", "купить молоко"},
		{"напомни в 25:00 что-нибудь", "в 25:00 что-нибудь"},
		{"напомни через 0 минут", ""},
	}
	for _, tt := range tests {
		req, err := reminder.ParseRequest(tt.text, now)
		if !errors.Is(err, reminder.ErrNoTime) {
			t.Errorf("ParseRequest(%q) error = %v, want ErrNoTime", tt.text, err)
		}
		if req.Message != tt.wantMsg {
			t.Errorf("ParseRequest(%q) Message = %q, want %q", tt.text, req.Message, tt.wantMsg)
		}
	}
}
