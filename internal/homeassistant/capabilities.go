package homeassistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
)

// NewBuilder returns the capability builder for Home Assistant.
func NewBuilder(cfg config.HomeAssistantConfig) capability.Builder {
	return capability.Builder{
		Name: "homeassistant",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.URL == "" || cfg.Token == "" {
				return nil, fmt.Errorf("home assistant not configured")
			}
			c := NewClient(cfg.URL, cfg.Token)
			return c.Capabilities(), nil
		},
	}
}

// Capabilities returns the smart-home capabilities backed by this
// client.
func (c *Client) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "get_entity_state",
			Description: "Get the current state of a Home Assistant entity. Use this to check if lights are on, doors are open, temperatures, etc.",
			Domain:      capability.DomainInfra,
			Params: []capability.Param{
				{Name: "entity_id", Type: "string", Description: "The entity ID (e.g., light.living_room, sensor.temperature, binary_sensor.front_door)", Required: true},
			},
			Handler: c.handleGetState,
		},
		{
			Name:        "home_control",
			Description: "Call a Home Assistant service to control devices. Examples: turn on lights, set thermostat temperature, lock doors.",
			Domain:      capability.DomainInfra,
			Confirm:     true,
			Params: []capability.Param{
				{Name: "domain", Type: "string", Description: "The service domain (e.g., light, switch, climate, lock)", Required: true},
				{Name: "service", Type: "string", Description: "The service to call (e.g., turn_on, turn_off, set_temperature, lock)", Required: true},
				{Name: "entity_id", Type: "string", Description: "The target entity ID", Required: true},
				{Name: "data", Type: "object", Description: "Additional service data (e.g., brightness, temperature)"},
			},
			Handler: c.handleCallService,
		},
		{
			Name:        "list_entities",
			Description: "List all entities in a domain (e.g., all lights, all sensors). Use this to discover what's available.",
			Domain:      capability.DomainInfra,
			Params: []capability.Param{
				{Name: "domain", Type: "string", Description: "The domain to list (e.g., light, switch, sensor, binary_sensor, climate, cover)", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum number of entities to return (default 20)", Default: 20},
			},
			Handler: c.handleListEntities,
		},
	}
}

func (c *Client) handleGetState(ctx context.Context, args map[string]any) (any, error) {
	entityID, _ := args["entity_id"].(string)
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	state, err := c.GetState(ctx, entityID)
	if err != nil {
		return nil, err
	}

	result := fmt.Sprintf("Entity: %s\nState: %s\n", state.EntityID, state.State)
	if name, ok := state.Attributes["friendly_name"].(string); ok {
		result += fmt.Sprintf("Name: %s\n", name)
	}
	if unit, ok := state.Attributes["unit_of_measurement"].(string); ok {
		result += fmt.Sprintf("Unit: %s\n", unit)
	}
	if brightness, ok := state.Attributes["brightness"].(float64); ok {
		result += fmt.Sprintf("Brightness: %.0f%%\n", brightness/255*100)
	}
	if temp, ok := state.Attributes["temperature"].(float64); ok {
		result += fmt.Sprintf("Temperature: %.1f\n", temp)
	}
	return result, nil
}

func (c *Client) handleCallService(ctx context.Context, args map[string]any) (any, error) {
	domain, _ := args["domain"].(string)
	service, _ := args["service"].(string)
	entityID, _ := args["entity_id"].(string)

	if domain == "" || service == "" || entityID == "" {
		return nil, fmt.Errorf("domain, service, and entity_id are required")
	}

	data := map[string]any{
		"entity_id": entityID,
	}
	if extra, ok := args["data"].(map[string]any); ok {
		for k, v := range extra {
			data[k] = v
		}
	}

	if err := c.CallService(ctx, domain, service, data); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully called %s.%s on %s", domain, service, entityID), nil
}

func (c *Client) handleListEntities(ctx context.Context, args map[string]any) (any, error) {
	domain, _ := args["domain"].(string)
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	limit := 20
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}

	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	prefix := domain + "."
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, prefix) {
			continue
		}
		name := s.EntityID
		if friendly, ok := s.Attributes["friendly_name"].(string); ok {
			name = fmt.Sprintf("%s (%s)", s.EntityID, friendly)
		}
		matches = append(matches, fmt.Sprintf("- %s: %s", name, s.State))
		if len(matches) >= limit {
			break
		}
	}

	if len(matches) == 0 {
		return fmt.Sprintf("No entities found in domain '%s'", domain), nil
	}
	return fmt.Sprintf("Found %d %s entities:\n%s", len(matches), domain, strings.Join(matches, "\n")), nil
}
