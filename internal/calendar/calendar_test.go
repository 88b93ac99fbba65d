package calendar

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/reeve/internal/config"
)

type fakeSource struct {
	events []Event
	err    error
	window time.Duration
}

func (f *fakeSource) Upcoming(ctx context.Context, window time.Duration) ([]Event, error) {
	f.window = window
	return f.events, f.err
}

func TestFormatEvents(t *testing.T) {
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	events := []Event{
		{Summary: "Standup", Start: time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)},
		{Summary: "Dentist", Start: time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC), Location: "Main St"},
		{Summary: "Flight", Start: time.Date(2026, 9, 4, 6, 15, 0, 0, time.UTC)},
	}

	got := FormatEvents(events, now)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), got)
	}
	if lines[0] != "Standup today at 9:30 AM" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "Dentist tomorrow at 2:00 PM (Main St)" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != "Flight on Fri Sep 4 at 6:15 AM" {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestFormatEventsEmpty(t *testing.T) {
	if got := FormatEvents(nil, time.Now()); got != "No upcoming events." {
		t.Errorf("got %q", got)
	}
}

func TestUpcomingHandlerWindow(t *testing.T) {
	src := &fakeSource{}
	handler := upcomingHandler(src)

	if _, err := handler(context.Background(), map[string]any{"days": float64(3)}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if src.window != 72*time.Hour {
		t.Errorf("window = %v, want 72h", src.window)
	}

	// Default window is a week.
	if _, err := handler(context.Background(), nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if src.window != 7*24*time.Hour {
		t.Errorf("default window = %v", src.window)
	}
}

func TestUpcomingHandlerError(t *testing.T) {
	src := &fakeSource{err: errors.New("server unreachable")}
	if _, err := upcomingHandler(src)(context.Background(), nil); err == nil {
		t.Fatal("expected error from source")
	}
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities(&fakeSource{})
	if len(caps) != 1 || caps[0].Name != "calendar_upcoming" {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
	if caps[0].Domain != "personal" {
		t.Errorf("domain = %q", caps[0].Domain)
	}
}

func TestNewBuilderUnconfigured(t *testing.T) {
	b := NewBuilder(config.DAVConfig{}, "UTC", nil)
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected error when URL unset")
	}
}
