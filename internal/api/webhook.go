package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nugget/reeve/internal/events"
)

// protectWebhook is the UniFi Protect alarm webhook payload. Only the
// fields needed for event mapping are decoded.
type protectWebhook struct {
	Alarm struct {
		Name     string `json:"name"`
		Triggers []struct {
			Key              string   `json:"key"`
			Device           string   `json:"device"`
			SmartDetectTypes []string `json:"smartDetectTypes"`
		} `json:"triggers"`
	} `json:"alarm"`
	Timestamp int64 `json:"timestamp"`
}

// handleProtectWebhook maps Protect alarm triggers onto bus events:
// ring → doorbell, motion → motion, and a person smart detection
// additionally raises an alert.
func (s *Server) handleProtectWebhook(w http.ResponseWriter, r *http.Request) {
	var payload protectWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid webhook body")
		return
	}

	published := 0
	for _, trigger := range payload.Alarm.Triggers {
		data := map[string]any{
			"camera": trigger.Device,
			"alarm":  payload.Alarm.Name,
		}

		switch {
		case strings.Contains(trigger.Key, "ring"):
			s.bus.Publish(events.TypeDoorbell, data, "unifi-protect")
			published++
		case strings.Contains(trigger.Key, "motion"):
			s.bus.Publish(events.TypeMotion, data, "unifi-protect")
			published++
		}

		for _, detect := range trigger.SmartDetectTypes {
			if detect == "person" {
				s.bus.Publish(events.TypeAlert, map[string]any{
					"camera":  trigger.Device,
					"alarm":   payload.Alarm.Name,
					"message": "person detected",
				}, "unifi-protect")
				published++
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "ok", "events": published}, s.logger)
}
