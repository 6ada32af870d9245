package tools

import (
	"context"
	"strings"
	"testing"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			s, _ := args["text"].(string)
			return s, nil
		},
	}
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hi" {
		t.Errorf("Execute = %q, want %q", got, "hi")
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(echoTool("echo")); err == nil {
		t.Error("Register accepted a duplicate name")
	}
}

func TestRegistry_RejectsInvalidTools(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Tool{Name: "", Handler: echoTool("x").Handler}); err == nil {
		t.Error("Register accepted an empty name")
	}
	if err := r.Register(Tool{Name: "broken"}); err == nil {
		t.Error("Register accepted a nil handler")
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("Execute succeeded for an unregistered tool")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error %q does not name the tool", err)
	}
}

func TestRegistry_NamesKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	got := r.Names()
	want := []string{"zeta", "alpha", "mid"}
	if len(got) != len(want) {
		t.Fatalf("Names returned %d names, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_SpecsShape(t *testing.T) {
	r := NewRegistry()
	tool := echoTool("echo")
	tool.Parameters = nil
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	specs := r.Specs()
	if len(specs) != 1 {
		t.Fatalf("Specs returned %d entries, want 1", len(specs))
	}
	if specs[0]["type"] != "function" {
		t.Errorf("spec type = %v, want function", specs[0]["type"])
	}
	fn, ok := specs[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("spec has no function object: %v", specs[0])
	}
	if fn["name"] != "echo" {
		t.Errorf("function name = %v, want echo", fn["name"])
	}
	params, ok := fn["parameters"].(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("nil parameters not defaulted to object schema: %v", fn["parameters"])
	}
}
