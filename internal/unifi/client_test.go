package unifi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func controllerServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "TOKEN", Value: "session123", Path: "/"})
		w.Header().Set("X-CSRF-Token", "csrf456")
	})
	mux.HandleFunc("/proxy/network/api/s/default/stat/health", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("TOKEN"); err != nil || c.Value != "session123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []Health{
				{Subsystem: "wan", Status: "ok"},
				{Subsystem: "wlan", Status: "ok", NumUser: 12},
				{Subsystem: "lan", Status: "ok", NumUser: 8},
			},
		})
	})
	mux.HandleFunc("/proxy/network/api/s/default/stat/sta", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []Station{
				{MAC: "aa:bb:cc:dd:ee:ff", Hostname: "laptop", Signal: -52},
				{MAC: "11:22:33:44:55:66", Hostname: "nas", IsWired: true},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &logins
}

func testClient(t *testing.T) (*Client, *atomic.Int64) {
	t.Helper()
	srv, logins := controllerServer(t)
	c := NewClient(config.UniFiConfig{
		Host:     srv.URL,
		Username: "reeve",
		Password: "secret",
	}, testLogger())
	return c, logins
}

func TestSiteHealth(t *testing.T) {
	c, logins := testClient(t)

	health, err := c.SiteHealth(context.Background())
	if err != nil {
		t.Fatalf("SiteHealth: %v", err)
	}
	if len(health) != 3 {
		t.Fatalf("got %d subsystems, want 3", len(health))
	}
	if health[1].NumUser != 12 {
		t.Errorf("wlan users = %d, want 12", health[1].NumUser)
	}

	// Second call reuses the session.
	if _, err := c.SiteHealth(context.Background()); err != nil {
		t.Fatalf("second SiteHealth: %v", err)
	}
	if n := logins.Load(); n != 1 {
		t.Errorf("logins = %d, want 1", n)
	}
}

func TestLoginFailure(t *testing.T) {
	srv, _ := controllerServer(t)
	c := NewClient(config.UniFiConfig{
		Host:     srv.URL,
		Username: "reeve",
		Password: "wrong",
	}, testLogger())

	if _, err := c.SiteHealth(context.Background()); err == nil {
		t.Fatal("expected login error")
	}
}

func TestStations(t *testing.T) {
	c, _ := testClient(t)

	stations, err := c.Stations(context.Background())
	if err != nil {
		t.Fatalf("Stations: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("got %d stations, want 2", len(stations))
	}
	if !stations[1].IsWired {
		t.Error("nas should be wired")
	}
}

func TestHandleNetworkStatus(t *testing.T) {
	c, _ := testClient(t)

	out, err := c.handleNetworkStatus(context.Background(), nil)
	if err != nil {
		t.Fatalf("handleNetworkStatus: %v", err)
	}
	text := out.(string)
	if !strings.Contains(text, "WAN: ok") || !strings.Contains(text, "Total: 20 connected clients") {
		t.Errorf("unexpected summary: %q", text)
	}
}

func TestCameraEventsFromHistory(t *testing.T) {
	bus := events.New(testLogger())
	bus.Publish(events.TypeMotion, map[string]any{"camera": "driveway"}, "test")
	bus.Publish(events.TypeResponse, map[string]any{"content": "hi"}, "test")
	bus.Publish(events.TypeDoorbell, map[string]any{"camera": "front door"}, "test")

	handler := cameraEventsHandler(bus)
	out, err := handler(context.Background(), map[string]any{"limit": float64(5)})
	if err != nil {
		t.Fatalf("camera_events: %v", err)
	}
	text := out.(string)
	lines := strings.Split(text, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), text)
	}
	if !strings.HasPrefix(lines[0], "doorbell: front door") {
		t.Errorf("most recent event should come first: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "motion: driveway") {
		t.Errorf("unexpected second line: %q", lines[1])
	}
}

func TestCameraEventsEmpty(t *testing.T) {
	bus := events.New(testLogger())

	out, err := cameraEventsHandler(bus)(context.Background(), nil)
	if err != nil {
		t.Fatalf("camera_events: %v", err)
	}
	if out != "No recent camera events." {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestCapabilities(t *testing.T) {
	c, _ := testClient(t)

	if caps := c.Capabilities(nil); len(caps) != 1 {
		t.Errorf("without bus: got %d capabilities, want 1", len(caps))
	}
	caps := c.Capabilities(events.New(testLogger()))
	if len(caps) != 2 {
		t.Fatalf("with bus: got %d capabilities, want 2", len(caps))
	}
	if caps[1].Name != "camera_events" {
		t.Errorf("unexpected capability: %s", caps[1].Name)
	}
}
