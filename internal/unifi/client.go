// Package unifi provides a UniFi Network controller client plus the
// network status and camera event capabilities.
package unifi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

// Client talks to a UniFi OS console (UDM, Cloud Key Gen2). It logs in
// with local credentials and keeps the session cookie plus CSRF token
// for subsequent proxy requests. TLS verification is disabled because
// consoles ship with self-signed certificates.
type Client struct {
	baseURL    string
	username   string
	password   string
	site       string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	csrfToken string
	loggedIn  bool
}

// NewClient creates a UniFi controller client.
func NewClient(cfg config.UniFiConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	site := cfg.Site
	if site == "" {
		site = "default"
	}
	jar, _ := cookiejar.New(nil)
	hc := httpkit.NewClient(
		httpkit.WithTimeout(15*time.Second),
		httpkit.WithTLSInsecureSkipVerify(),
	)
	hc.Jar = jar
	return &Client{
		baseURL:    strings.TrimRight(cfg.Host, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		site:       site,
		httpClient: hc,
		logger:     logger.With("component", "unifi"),
	}
}

// login authenticates against the UniFi OS auth endpoint and records
// the CSRF token. Safe to call repeatedly; only the first call per
// session hits the network.
func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("login failed %d: %s", resp.StatusCode, errBody)
	}

	c.csrfToken = resp.Header.Get("X-CSRF-Token")
	c.loggedIn = true
	return nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	if err := c.login(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.Lock()
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		// Session expired; force a fresh login on the next call.
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		return fmt.Errorf("UniFi session expired")
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("UniFi API error %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health is one subsystem row from the site health endpoint.
type Health struct {
	Subsystem string `json:"subsystem"`
	Status    string `json:"status"`
	NumUser   int    `json:"num_user"`
	NumSta    int    `json:"num_sta"`
}

// SiteHealth retrieves the per-subsystem health summary.
func (c *Client) SiteHealth(ctx context.Context) ([]Health, error) {
	var envelope struct {
		Data []Health `json:"data"`
	}
	path := fmt.Sprintf("/proxy/network/api/s/%s/stat/health", c.site)
	if err := c.get(ctx, path, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Station is a connected client from the station list. Only fields
// relevant to the network summary are included.
type Station struct {
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	IsWired  bool   `json:"is_wired"`
	Signal   int    `json:"signal"` // RSSI in dBm, wireless only
	LastSeen int64  `json:"last_seen"`
}

// Stations retrieves the connected client list for the site.
func (c *Client) Stations(ctx context.Context) ([]Station, error) {
	var envelope struct {
		Data []Station `json:"data"`
	}
	path := fmt.Sprintf("/proxy/network/api/s/%s/stat/sta", c.site)
	if err := c.get(ctx, path, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}
