package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/api/":
			json.NewEncoder(w).Encode(map[string]string{"message": "API running."})
		case r.URL.Path == "/api/states":
			json.NewEncoder(w).Encode([]State{
				{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"friendly_name": "Kitchen"}},
				{EntityID: "light.porch", State: "off"},
				{EntityID: "sensor.temp", State: "21.5"},
			})
		case strings.HasPrefix(r.URL.Path, "/api/states/"):
			json.NewEncoder(w).Encode(State{
				EntityID:   "light.kitchen",
				State:      "on",
				Attributes: map[string]any{"friendly_name": "Kitchen", "brightness": 128.0},
			})
		case strings.HasPrefix(r.URL.Path, "/api/services/"):
			w.Write([]byte("[]"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, "test-token")
}

func TestPing(t *testing.T) {
	_, c := testServer(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestGetStateCapability(t *testing.T) {
	_, c := testServer(t)

	out, err := c.handleGetState(context.Background(), map[string]any{"entity_id": "light.kitchen"})
	if err != nil {
		t.Fatal(err)
	}
	text := out.(string)
	if !strings.Contains(text, "State: on") {
		t.Errorf("missing state in %q", text)
	}
	if !strings.Contains(text, "Brightness: 50%") {
		t.Errorf("missing brightness in %q", text)
	}

	if _, err := c.handleGetState(context.Background(), nil); err == nil {
		t.Error("expected error for missing entity_id")
	}
}

func TestListEntitiesCapability(t *testing.T) {
	_, c := testServer(t)

	out, err := c.handleListEntities(context.Background(), map[string]any{"domain": "light"})
	if err != nil {
		t.Fatal(err)
	}
	text := out.(string)
	if !strings.Contains(text, "Found 2 light entities") {
		t.Errorf("unexpected listing: %q", text)
	}

	out, err = c.handleListEntities(context.Background(), map[string]any{"domain": "lock"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.(string), "No entities found") {
		t.Errorf("expected empty-domain message, got %q", out)
	}
}

func TestCallServiceCapability(t *testing.T) {
	_, c := testServer(t)

	out, err := c.handleCallService(context.Background(), map[string]any{
		"domain":    "light",
		"service":   "turn_on",
		"entity_id": "light.kitchen",
		"data":      map[string]any{"brightness": 200},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.(string), "light.turn_on") {
		t.Errorf("unexpected confirmation: %q", out)
	}

	if _, err := c.handleCallService(context.Background(), map[string]any{"domain": "light"}); err == nil {
		t.Error("expected error for missing required args")
	}
}

func TestCapabilitiesDeclared(t *testing.T) {
	c := NewClient("http://example", "t")
	caps := c.Capabilities()
	if len(caps) != 3 {
		t.Fatalf("expected 3 capabilities, got %d", len(caps))
	}
	for _, cp := range caps {
		if cp.Handler == nil {
			t.Errorf("%s has no handler", cp.Name)
		}
	}
}
