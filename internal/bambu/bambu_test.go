package bambu

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nugget/reeve/internal/config"
)

func testMonitor() *Monitor {
	return NewMonitor(config.BambuConfig{
		Host:       "192.0.2.10",
		Serial:     "01S00C123400000",
		AccessCode: "12345678",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleReportMergesPartialUpdates(t *testing.T) {
	m := testMonitor()

	m.handleReport([]byte(`{"print":{"gcode_state":"RUNNING","subtask_name":"benchy.3mf",
		"mc_percent":10,"mc_remaining_time":95,"layer_num":12,"total_layer_num":120,
		"nozzle_temper":219.6,"bed_temper":60.2}}`))

	// Delta update: only progress fields change.
	m.handleReport([]byte(`{"print":{"mc_percent":45,"layer_num":54,"mc_remaining_time":60}}`))

	st, ok := m.Snapshot()
	if !ok {
		t.Fatal("no status after reports")
	}
	if st.Percent != 45 || st.LayerNum != 54 {
		t.Errorf("progress not merged: %+v", st)
	}
	if st.GcodeState != "RUNNING" || st.TaskName != "benchy.3mf" {
		t.Errorf("earlier fields lost on delta: %+v", st)
	}
}

func TestHandleReportIgnoresGarbage(t *testing.T) {
	m := testMonitor()

	m.handleReport([]byte(`not json`))
	m.handleReport([]byte(`{"system":{"command":"led"}}`))

	if _, ok := m.Snapshot(); ok {
		t.Error("garbage payload should not mark status seen")
	}
}

func TestHandleStatusNoReport(t *testing.T) {
	m := testMonitor()

	out, err := m.handleStatus(context.Background(), nil)
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	if out != "No report from the printer yet." {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestHandleStatusRunning(t *testing.T) {
	m := testMonitor()
	m.handleReport([]byte(`{"print":{"gcode_state":"RUNNING","subtask_name":"bracket.3mf",
		"mc_percent":72,"mc_remaining_time":83,"layer_num":180,"total_layer_num":250,
		"nozzle_temper":220.4,"bed_temper":59.8}}`))

	out, err := m.handleStatus(context.Background(), nil)
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	text := out.(string)
	for _, want := range []string{"bracket.3mf", "72%", "layer 180/250", "1h23m", "Nozzle 220°C", "bed 60°C"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q: %q", want, text)
		}
	}
}

func TestHandleStatusIdle(t *testing.T) {
	m := testMonitor()
	m.handleReport([]byte(`{"print":{"gcode_state":"IDLE","nozzle_temper":24.0,"bed_temper":23.0}}`))

	out, err := m.handleStatus(context.Background(), nil)
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	if !strings.Contains(out.(string), "Printer is idle.") {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestFormatMinutes(t *testing.T) {
	cases := map[int]string{5: "5m", 59: "59m", 60: "1h0m", 95: "1h35m"}
	for min, want := range cases {
		if got := formatMinutes(min); got != want {
			t.Errorf("formatMinutes(%d) = %q, want %q", min, got, want)
		}
	}
}

func TestTopics(t *testing.T) {
	m := testMonitor()
	if got := m.reportTopic(); got != "device/01S00C123400000/report" {
		t.Errorf("reportTopic = %q", got)
	}
	if got := m.requestTopic(); got != "device/01S00C123400000/request" {
		t.Errorf("requestTopic = %q", got)
	}
}

func TestNewBuilderUnconfigured(t *testing.T) {
	b := NewBuilder(nil)
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected error when monitor is nil")
	}
}

func TestCapabilities(t *testing.T) {
	caps := testMonitor().Capabilities()
	if len(caps) != 1 || caps[0].Name != "printer_status" {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}
