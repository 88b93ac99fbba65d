// Package prometheus provides a Prometheus query client and the
// metrics capability built on it.
package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

// Client queries a Prometheus server's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Prometheus client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

// Sample is one instant-vector result.
type Sample struct {
	Metric map[string]string
	Value  float64
	Time   time.Time
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]any            `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error string `json:"error"`
}

// Query runs an instant PromQL query.
func (c *Client) Query(ctx context.Context, query string) ([]Sample, error) {
	u := fmt.Sprintf("%s/api/v1/query?query=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query prometheus: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("prometheus error %d: %s", resp.StatusCode, body)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("query failed: %s", qr.Error)
	}

	samples := make([]Sample, 0, len(qr.Data.Result))
	for _, r := range qr.Data.Result {
		ts, _ := r.Value[0].(float64)
		raw, _ := r.Value[1].(string)
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		samples = append(samples, Sample{
			Metric: r.Metric,
			Value:  val,
			Time:   time.Unix(int64(ts), 0),
		})
	}
	return samples, nil
}

// Metric is one row of the system metrics summary.
type Metric struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Percent float64 `json:"percent"`
	Unit    string  `json:"unit"`
}

// SystemMetrics summarizes CPU, RAM, and disk usage per instance for
// the dashboard.
func (c *Client) SystemMetrics(ctx context.Context) ([]Metric, error) {
	const maxInstances = 3
	var metrics []Metric

	cpu, err := c.Query(ctx, `100 - (avg by(instance)(rate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`)
	if err != nil {
		return nil, fmt.Errorf("cpu query: %w", err)
	}
	for i, s := range cpu {
		if i >= maxInstances {
			break
		}
		metrics = append(metrics, Metric{
			Name:    fmt.Sprintf("CPU (%s)", s.Metric["instance"]),
			Value:   fmt.Sprintf("%.1f%%", s.Value),
			Percent: s.Value,
			Unit:    "%",
		})
	}

	ramTotal, err := c.Query(ctx, `node_memory_MemTotal_bytes`)
	if err != nil {
		return nil, fmt.Errorf("ram query: %w", err)
	}
	ramAvail, err := c.Query(ctx, `node_memory_MemAvailable_bytes`)
	if err != nil {
		return nil, fmt.Errorf("ram query: %w", err)
	}
	metrics = append(metrics, usageMetrics("RAM", ramTotal, ramAvail, maxInstances)...)

	diskTotal, err := c.Query(ctx, `node_filesystem_size_bytes{mountpoint="/"}`)
	if err != nil {
		return nil, fmt.Errorf("disk query: %w", err)
	}
	diskAvail, err := c.Query(ctx, `node_filesystem_avail_bytes{mountpoint="/"}`)
	if err != nil {
		return nil, fmt.Errorf("disk query: %w", err)
	}
	metrics = append(metrics, usageMetrics("Disk", diskTotal, diskAvail, maxInstances)...)

	return metrics, nil
}

func usageMetrics(label string, totals, avails []Sample, limit int) []Metric {
	availByInstance := make(map[string]float64, len(avails))
	for _, s := range avails {
		availByInstance[s.Metric["instance"]] = s.Value
	}

	var out []Metric
	for i, total := range totals {
		if i >= limit {
			break
		}
		instance := total.Metric["instance"]
		avail, ok := availByInstance[instance]
		if !ok || total.Value <= 0 {
			continue
		}
		used := total.Value - avail
		const gib = 1 << 30
		out = append(out, Metric{
			Name:    fmt.Sprintf("%s (%s)", label, instance),
			Value:   fmt.Sprintf("%.1f / %.1f GB", used/gib, total.Value/gib),
			Percent: used / total.Value * 100,
			Unit:    "GB",
		})
	}
	return out
}

// NewBuilder returns the capability builder for Prometheus.
func NewBuilder(cfg config.PrometheusConfig) capability.Builder {
	return capability.Builder{
		Name: "prometheus",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.URL == "" {
				return nil, fmt.Errorf("prometheus not configured")
			}
			c := NewClient(cfg.URL)
			return c.Capabilities(), nil
		},
	}
}

// Capabilities returns the metrics capability backed by this client.
func (c *Client) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "query_metrics",
			Description: "Run a PromQL query against Prometheus. Use for CPU, memory, disk, and service metrics across the homelab.",
			Domain:      capability.DomainInfra,
			Params: []capability.Param{
				{Name: "query", Type: "string", Description: "The PromQL query to run", Required: true},
			},
			Handler: c.handleQuery,
		},
	}
}

func (c *Client) handleQuery(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	samples, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return "Query returned no results.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):\n", len(samples))
	for i, s := range samples {
		if i >= 20 {
			fmt.Fprintf(&b, "... and %d more\n", len(samples)-i)
			break
		}
		label := s.Metric["instance"]
		if label == "" {
			label = s.Metric["__name__"]
		}
		fmt.Fprintf(&b, "- %s: %g\n", label, s.Value)
	}
	return b.String(), nil
}
