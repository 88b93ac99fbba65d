// Package bambu monitors a Bambu Lab printer over its local MQTT
// broker and exposes the printer status capability.
package bambu

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
)

// Status is the merged printer state from report messages. The printer
// sends partial updates, so fields persist between reports.
type Status struct {
	GcodeState    string  `json:"gcode_state"`
	TaskName      string  `json:"subtask_name"`
	Percent       int     `json:"mc_percent"`
	RemainingMin  int     `json:"mc_remaining_time"`
	LayerNum      int     `json:"layer_num"`
	TotalLayerNum int     `json:"total_layer_num"`
	NozzleTemp    float64 `json:"nozzle_temper"`
	BedTemp       float64 `json:"bed_temper"`
	UpdatedAt     time.Time
}

// Monitor maintains an MQTT session to the printer and tracks the
// latest report. Printers expose an MQTTS broker on port 8883 with a
// self-signed certificate, authenticated as user "bblp" with the LAN
// access code.
type Monitor struct {
	cfg    config.BambuConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	mu     sync.Mutex
	status Status
	seen   bool
}

// NewMonitor creates a Monitor but does not connect. Call
// [Monitor.Start] to begin the session.
func NewMonitor(cfg config.BambuConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With("component", "bambu"),
	}
}

func (m *Monitor) reportTopic() string {
	return "device/" + m.cfg.Serial + "/report"
}

func (m *Monitor) requestTopic() string {
	return "device/" + m.cfg.Serial + "/request"
}

// Start connects to the printer and subscribes to its report topic. It
// blocks until ctx is cancelled; autopaho handles reconnects.
func (m *Monitor) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(fmt.Sprintf("mqtts://%s:8883", m.cfg.Host))
	if err != nil {
		return fmt.Errorf("parse printer URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: "bblp",
		ConnectPassword: []byte(m.cfg.AccessCode),
		TlsCfg: &tls.Config{
			// Printers use a self-signed device certificate.
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("connected to printer", "host", m.cfg.Host)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: m.reportTopic(), QoS: 0},
				},
			}); err != nil {
				m.logger.Warn("printer subscribe failed", "error", err)
				return
			}
			m.requestFullReport(ctx, cm)
		},
		OnConnectError: func(err error) {
			m.logger.Warn("printer connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "reeve-" + m.cfg.Serial,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					m.handleReport(pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("printer connect: %w", err)
	}
	m.cm = cm

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cm.Disconnect(stopCtx)
}

// requestFullReport asks the printer to push its complete state. The
// printer otherwise only sends deltas.
func (m *Monitor) requestFullReport(ctx context.Context, cm *autopaho.ConnectionManager) {
	payload, _ := json.Marshal(map[string]any{
		"pushing": map[string]any{"command": "pushall"},
	})
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.requestTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		m.logger.Warn("pushall request failed", "error", err)
	}
}

// handleReport merges a (possibly partial) report into the tracked
// status. Absent fields keep their previous value.
func (m *Monitor) handleReport(payload []byte) {
	var report struct {
		Print map[string]json.RawMessage `json:"print"`
	}
	if err := json.Unmarshal(payload, &report); err != nil || report.Print == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merge := func(key string, dst any) {
		if raw, ok := report.Print[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				m.logger.Debug("bad report field", "field", key, "error", err)
			}
		}
	}
	merge("gcode_state", &m.status.GcodeState)
	merge("subtask_name", &m.status.TaskName)
	merge("mc_percent", &m.status.Percent)
	merge("mc_remaining_time", &m.status.RemainingMin)
	merge("layer_num", &m.status.LayerNum)
	merge("total_layer_num", &m.status.TotalLayerNum)
	merge("nozzle_temper", &m.status.NozzleTemp)
	merge("bed_temper", &m.status.BedTemp)
	m.status.UpdatedAt = time.Now()
	m.seen = true
}

// Snapshot returns the latest status. The second return is false until
// the first report arrives.
func (m *Monitor) Snapshot() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.seen
}

// NewBuilder returns the capability builder for the printer monitor.
// Pass nil when no printer is configured.
func NewBuilder(m *Monitor) capability.Builder {
	return capability.Builder{
		Name: "bambu",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if m == nil {
				return nil, fmt.Errorf("bambu printer not configured")
			}
			return m.Capabilities(), nil
		},
	}
}

// Capabilities returns the printer status capability.
func (m *Monitor) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "printer_status",
			Description: "Get the 3D printer's current state: job progress, layer, temperatures, time remaining.",
			Domain:      capability.DomainInfra,
			Handler:     m.handleStatus,
		},
	}
}

func (m *Monitor) handleStatus(ctx context.Context, args map[string]any) (any, error) {
	st, ok := m.Snapshot()
	if !ok {
		return "No report from the printer yet.", nil
	}

	var b strings.Builder
	switch st.GcodeState {
	case "RUNNING":
		fmt.Fprintf(&b, "Printing %s: %d%% complete", st.TaskName, st.Percent)
		if st.TotalLayerNum > 0 {
			fmt.Fprintf(&b, ", layer %d/%d", st.LayerNum, st.TotalLayerNum)
		}
		if st.RemainingMin > 0 {
			fmt.Fprintf(&b, ", about %s remaining", formatMinutes(st.RemainingMin))
		}
		b.WriteString(".")
	case "PAUSE":
		fmt.Fprintf(&b, "Print paused at %d%% (%s).", st.Percent, st.TaskName)
	case "FAILED":
		fmt.Fprintf(&b, "Print failed: %s.", st.TaskName)
	case "FINISH":
		fmt.Fprintf(&b, "Last print finished: %s.", st.TaskName)
	default:
		b.WriteString("Printer is idle.")
	}
	fmt.Fprintf(&b, " Nozzle %.0f°C, bed %.0f°C.", st.NozzleTemp, st.BedTemp)
	return b.String(), nil
}

func formatMinutes(min int) string {
	if min < 60 {
		return fmt.Sprintf("%dm", min)
	}
	return fmt.Sprintf("%dh%dm", min/60, min%60)
}
