// Package adguard provides an AdGuard Home client and the DNS
// filtering capability built on it.
package adguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

// Client talks to the AdGuard Home control API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates an AdGuard Home client.
func NewClient(cfg config.AdGuardConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

// Status is the server's protection state.
type Status struct {
	ProtectionEnabled bool   `json:"protection_enabled"`
	Running           bool   `json:"running"`
	Version           string `json:"version"`
}

// Stats summarizes recent DNS activity.
type Stats struct {
	DNSQueries        int64   `json:"num_dns_queries"`
	BlockedFiltering  int64   `json:"num_blocked_filtering"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

// BlockedRatio returns the fraction of queries blocked, 0 when idle.
func (s Stats) BlockedRatio() float64 {
	if s.DNSQueries == 0 {
		return 0
	}
	return float64(s.BlockedFiltering) / float64(s.DNSQueries)
}

// Status fetches the protection state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/control/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stats fetches the DNS activity counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.do(ctx, http.MethodGet, "/control/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetProtection enables or disables DNS filtering.
func (c *Client) SetProtection(ctx context.Context, enabled bool) error {
	body := map[string]any{"enabled": enabled}
	return c.do(ctx, http.MethodPost, "/control/protection", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("adguard error %d: %s", resp.StatusCode, errBody)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// NewBuilder returns the capability builder for AdGuard Home.
func NewBuilder(cfg config.AdGuardConfig) capability.Builder {
	return capability.Builder{
		Name: "adguard",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.URL == "" {
				return nil, fmt.Errorf("adguard not configured")
			}
			c := NewClient(cfg)
			return c.Capabilities(), nil
		},
	}
}

// Capabilities returns the DNS filtering capability backed by this
// client.
func (c *Client) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "dns_filter",
			Description: "Check AdGuard Home DNS filtering status and stats, or pause/resume filtering.",
			Domain:      capability.DomainInfra,
			Params: []capability.Param{
				{Name: "action", Type: "string", Description: "What to do", Required: true,
					Enum: []string{"status", "pause", "resume"}},
			},
			Handler: c.handleFilter,
		},
	}
}

func (c *Client) handleFilter(ctx context.Context, args map[string]any) (any, error) {
	action, _ := args["action"].(string)

	switch action {
	case "status", "":
		st, err := c.Status(ctx)
		if err != nil {
			return nil, err
		}
		stats, err := c.Stats(ctx)
		if err != nil {
			return nil, err
		}
		state := "paused"
		if st.ProtectionEnabled {
			state = "active"
		}
		return fmt.Sprintf("DNS filtering is %s. %d queries, %d blocked (%.1f%%).",
			state, stats.DNSQueries, stats.BlockedFiltering, stats.BlockedRatio()*100), nil

	case "pause":
		if err := c.SetProtection(ctx, false); err != nil {
			return nil, err
		}
		return "DNS filtering paused.", nil

	case "resume":
		if err := c.SetProtection(ctx, true); err != nil {
			return nil, err
		}
		return "DNS filtering resumed.", nil

	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}
