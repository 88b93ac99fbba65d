// Package calendar reads upcoming events from a CalDAV server and
// exposes the calendar capability.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

// Event is a calendar entry flattened for presentation.
type Event struct {
	Summary  string
	Location string
	Start    time.Time
	Calendar string
}

// Source lists upcoming calendar events. Implemented by Client and by
// test fakes.
type Source interface {
	Upcoming(ctx context.Context, window time.Duration) ([]Event, error)
}

// Client reads events from a CalDAV server with basic auth.
type Client struct {
	dav      *caldav.Client
	timezone string
	logger   *slog.Logger
}

// NewClient creates a CalDAV client for the configured endpoint.
func NewClient(cfg config.DAVConfig, timezone string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
		cfg.Username, cfg.Password,
	)
	dav, err := caldav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	return &Client{
		dav:      dav,
		timezone: timezone,
		logger:   logger.With("component", "calendar"),
	}, nil
}

// Upcoming returns events starting within the window across all of
// the account's calendars, sorted by start time.
func (c *Client) Upcoming(ctx context.Context, window time.Duration) ([]Event, error) {
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home: %w", err)
	}
	calendars, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	loc := time.UTC
	if c.timezone != "" {
		if l, err := time.LoadLocation(c.timezone); err == nil {
			loc = l
		}
	}

	now := time.Now()
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: now,
				End:   now.Add(window),
			}},
		},
	}

	var all []Event
	for _, cal := range calendars {
		objects, err := c.dav.QueryCalendar(ctx, cal.Path, query)
		if err != nil {
			c.logger.Warn("calendar query failed", "calendar", cal.Name, "error", err)
			continue
		}
		for _, obj := range objects {
			for _, ev := range obj.Data.Events() {
				start, err := ev.DateTimeStart(loc)
				if err != nil {
					continue
				}
				summary, _ := ev.Props.Text(ical.PropSummary)
				location, _ := ev.Props.Text(ical.PropLocation)
				all = append(all, Event{
					Summary:  summary,
					Location: location,
					Start:    start,
					Calendar: cal.Name,
				})
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all, nil
}

// FormatEvents renders events for the model, grouped chronologically.
func FormatEvents(events []Event, now time.Time) string {
	if len(events) == 0 {
		return "No upcoming events."
	}

	var b strings.Builder
	for _, ev := range events {
		day := "on " + ev.Start.Format("Mon Jan 2")
		switch {
		case sameDay(ev.Start, now):
			day = "today"
		case sameDay(ev.Start, now.AddDate(0, 0, 1)):
			day = "tomorrow"
		}
		fmt.Fprintf(&b, "%s %s at %s", ev.Summary, day, ev.Start.Format("3:04 PM"))
		if ev.Location != "" {
			fmt.Fprintf(&b, " (%s)", ev.Location)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// NewBuilder returns the capability builder for the calendar.
func NewBuilder(cfg config.DAVConfig, timezone string, logger *slog.Logger) capability.Builder {
	return capability.Builder{
		Name: "calendar",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.URL == "" {
				return nil, fmt.Errorf("caldav not configured")
			}
			c, err := NewClient(cfg, timezone, logger)
			if err != nil {
				return nil, err
			}
			return Capabilities(c), nil
		},
	}
}

// Capabilities returns the calendar capability backed by src.
func Capabilities(src Source) []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "calendar_upcoming",
			Description: "List upcoming calendar events for the next few days.",
			Domain:      capability.DomainPersonal,
			Params: []capability.Param{
				{Name: "days", Type: "integer", Description: "How many days ahead to look", Default: 7},
			},
			Handler: upcomingHandler(src),
		},
	}
}

func upcomingHandler(src Source) capability.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		days := 7
		if v, ok := args["days"].(float64); ok && v > 0 {
			days = int(v)
		}
		events, err := src.Upcoming(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return nil, err
		}
		return FormatEvents(events, time.Now()), nil
	}
}
