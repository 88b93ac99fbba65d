package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nugget/reeve/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoCapability(name, domain string) *Capability {
	return &Capability{
		Name:        name,
		Description: "echoes its input",
		Domain:      domain,
		Params: []Param{
			{Name: "message", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			msg, _ := args["message"].(string)
			return msg, nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoCapability("echo", DomainGeneral))

	c, ok := r.Get("echo")
	if !ok {
		t.Fatal("capability not found")
	}
	if c.Domain != DomainGeneral {
		t.Errorf("Domain = %q, want %q", c.Domain, DomainGeneral)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected not found for unregistered name")
	}
}

func TestRegisterOverwriteLastWins(t *testing.T) {
	r := NewRegistry(testLogger())

	first := echoCapability("dup", DomainGeneral)
	first.Description = "first"
	second := echoCapability("dup", DomainInfra)
	second.Description = "second"

	r.Register(first)
	r.Register(second)

	c, ok := r.Get("dup")
	if !ok {
		t.Fatal("capability not found")
	}
	if c.Description != "second" {
		t.Errorf("Description = %q, want second", c.Description)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if got := r.ListByDomain(DomainGeneral); len(got) != 0 {
		t.Errorf("old domain still lists %d capabilities", len(got))
	}
	if got := r.ListByDomain(DomainInfra); len(got) != 1 {
		t.Errorf("new domain lists %d capabilities, want 1", len(got))
	}
}

func TestListByDomainOrder(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoCapability("alpha", DomainInfra))
	r.Register(echoCapability("beta", DomainInfra))
	r.Register(echoCapability("gamma", DomainPersonal))

	list := r.ListByDomain(DomainInfra)
	if len(list) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Errorf("order = %s, %s; want alpha, beta", list[0].Name, list[1].Name)
	}
}

func TestSchemasForEmptyDomain(t *testing.T) {
	r := NewRegistry(testLogger())

	schemas := r.SchemasFor("nonexistent")
	if len(schemas) != 0 {
		t.Errorf("expected empty schema list, got %d", len(schemas))
	}
}

func TestSchemasForUnionDeduplicates(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoCapability("a", DomainInfra))
	r.Register(echoCapability("b", DomainGeneral))

	schemas := r.SchemasFor(DomainInfra, DomainGeneral, DomainInfra)
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	if schemas[0].Name != "a" || schemas[1].Name != "b" {
		t.Errorf("schema order = %s, %s", schemas[0].Name, schemas[1].Name)
	}
}

func TestInputSchema(t *testing.T) {
	c := &Capability{
		Name: "set_mode",
		Params: []Param{
			{Name: "mode", Type: "string", Description: "the mode", Required: true,
				Enum: []string{"home", "away"}},
			{Name: "limit", Type: "integer", Description: "max entries", Default: 20},
		},
	}

	schema := c.InputSchema()
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	mode := props["mode"].(map[string]any)
	if enum, ok := mode["enum"].([]string); !ok || len(enum) != 2 {
		t.Errorf("enum not propagated: %v", mode["enum"])
	}
	limit := props["limit"].(map[string]any)
	if limit["default"] != 20 {
		t.Errorf("default = %v, want 20", limit["default"])
	}
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "mode" {
		t.Errorf("required = %v, want [mode]", required)
	}
}

func TestDispatcherUnknownCapability(t *testing.T) {
	r := NewRegistry(testLogger())
	d := NewDispatcher(r, nil, testLogger())

	res := d.Invoke(context.Background(), "nope", nil)
	if res.Success {
		t.Error("expected failure for unknown capability")
	}
	if res.Error != "unknown capability: nope" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestDispatcherSuccess(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoCapability("echo", DomainGeneral))
	d := NewDispatcher(r, nil, testLogger())

	res := d.Invoke(context.Background(), "echo", map[string]any{"message": "hi"})
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Content() != "hi" {
		t.Errorf("Content = %q, want hi", res.Content())
	}
}

func TestDispatcherHandlerError(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&Capability{
		Name:   "broken",
		Domain: DomainGeneral,
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	})
	d := NewDispatcher(r, nil, testLogger())

	res := d.Invoke(context.Background(), "broken", nil)
	if res.Success {
		t.Error("expected failure")
	}
	if res.Error != "upstream unavailable" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestDispatcherRecoversPanic(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&Capability{
		Name:   "panicky",
		Domain: DomainGeneral,
		Handler: func(context.Context, map[string]any) (any, error) {
			panic("boom")
		},
	})
	d := NewDispatcher(r, nil, testLogger())

	res := d.Invoke(context.Background(), "panicky", nil)
	if res.Success {
		t.Error("expected failure after panic")
	}
}

func TestDispatcherPublishesEvents(t *testing.T) {
	bus := events.New(testLogger())
	r := NewRegistry(testLogger())
	r.Register(echoCapability("echo", DomainGeneral))
	d := NewDispatcher(r, bus, testLogger())

	var statuses []string
	bus.Subscribe(events.TypeToolExecution, func(e events.Event) {
		statuses = append(statuses, e.Data["status"].(string))
	})

	d.Invoke(context.Background(), "echo", map[string]any{"message": "x"})

	if len(statuses) != 2 {
		t.Fatalf("expected 2 events, got %d", len(statuses))
	}
	if statuses[0] != "started" || statuses[1] != "completed" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestInvokeJSONMalformedArguments(t *testing.T) {
	r := NewRegistry(testLogger())

	var gotArgs map[string]any
	r.Register(&Capability{
		Name:   "inspect",
		Domain: DomainGeneral,
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			gotArgs = args
			return "ok", nil
		},
	})
	d := NewDispatcher(r, nil, testLogger())

	res := d.InvokeJSON(context.Background(), "inspect", "{not json")
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if len(gotArgs) != 0 {
		t.Errorf("expected empty args, got %v", gotArgs)
	}
}

func TestDiscoverPartialSuccess(t *testing.T) {
	r := NewRegistry(testLogger())

	builders := []Builder{
		{Name: "good", Build: func(context.Context) ([]*Capability, error) {
			return []*Capability{
				echoCapability("one", DomainGeneral),
				echoCapability("two", DomainGeneral),
			}, nil
		}},
		{Name: "bad", Build: func(context.Context) ([]*Capability, error) {
			return nil, errors.New("not configured")
		}},
		{Name: "other", Build: func(context.Context) ([]*Capability, error) {
			return []*Capability{echoCapability("three", DomainInfra)}, nil
		}},
	}

	n := r.Discover(context.Background(), testLogger(), builders)
	if n != 3 {
		t.Errorf("Discover = %d, want 3", n)
	}
	if _, ok := r.Get("three"); !ok {
		t.Error("builder after failed builder not loaded")
	}
}

func TestResultContent(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want string
	}{
		{"string", Result{Success: true, Data: "plain"}, "plain"},
		{"nil", Result{Success: true}, "ok"},
		{"structured", Result{Success: true, Data: map[string]any{"n": 1}}, `{"n":1}`},
		{"failure", Result{Success: false, Error: "nope"}, "Error: nope"},
	}
	for _, tc := range cases {
		if got := tc.res.Content(); got != tc.want {
			t.Errorf("%s: Content = %q, want %q", tc.name, got, tc.want)
		}
	}
}
