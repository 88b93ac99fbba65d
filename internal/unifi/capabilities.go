package unifi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/events"
)

// NewBuilder returns the capability builder for the UniFi controller.
// The event bus is used to answer camera event questions from recent
// doorbell and motion history.
func NewBuilder(cfg config.UniFiConfig, bus *events.Bus, logger *slog.Logger) capability.Builder {
	return capability.Builder{
		Name: "unifi",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.Host == "" {
				return nil, fmt.Errorf("unifi not configured")
			}
			c := NewClient(cfg, logger)
			return c.Capabilities(bus), nil
		},
	}
}

// Capabilities returns the network and camera capabilities backed by
// this client.
func (c *Client) Capabilities(bus *events.Bus) []*capability.Capability {
	caps := []*capability.Capability{
		{
			Name:        "network_status",
			Description: "Get UniFi network health: WAN/WLAN/LAN status and connected client counts.",
			Domain:      capability.DomainInfra,
			Handler:     c.handleNetworkStatus,
		},
	}
	if bus != nil {
		caps = append(caps, &capability.Capability{
			Name:        "camera_events",
			Description: "List recent doorbell rings and camera motion events.",
			Domain:      capability.DomainInfra,
			Params: []capability.Param{
				{Name: "limit", Type: "integer", Description: "Max events to return", Default: 5},
			},
			Handler: cameraEventsHandler(bus),
		})
	}
	return caps
}

func (c *Client) handleNetworkStatus(ctx context.Context, args map[string]any) (any, error) {
	health, err := c.SiteHealth(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	clients := 0
	for _, h := range health {
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(h.Subsystem), h.Status)
		if h.NumUser > 0 || h.NumSta > 0 {
			n := h.NumUser
			if h.NumSta > n {
				n = h.NumSta
			}
			fmt.Fprintf(&b, " (%d clients)", n)
			clients += n
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "No health data from the controller.", nil
	}
	fmt.Fprintf(&b, "Total: %d connected clients", clients)
	return b.String(), nil
}

func cameraEventsHandler(bus *events.Bus) capability.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		limit := 5
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		var matched []events.Event
		for _, ev := range bus.History(0) {
			if ev.Type == events.TypeDoorbell || ev.Type == events.TypeMotion {
				matched = append(matched, ev)
			}
		}
		if len(matched) == 0 {
			return "No recent camera events.", nil
		}
		if len(matched) > limit {
			matched = matched[len(matched)-limit:]
		}

		var b strings.Builder
		// Most recent first for the model.
		for i := len(matched) - 1; i >= 0; i-- {
			ev := matched[i]
			camera, _ := ev.Data["camera"].(string)
			if camera == "" {
				camera = "unknown camera"
			}
			fmt.Fprintf(&b, "%s: %s at %s\n",
				ev.Type, camera, ev.Timestamp.Local().Format(time.Kitchen))
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
