package mcp

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(map[string]string{
		"files":  "http://localhost:9001/rpc",
		"search": "http://localhost:9002/rpc",
	})

	url, err := r.Resolve("files")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "http://localhost:9001/rpc" {
		t.Errorf("Resolve = %q, want %q", url, "http://localhost:9001/rpc")
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry(map[string]string{
		"files":  "http://localhost:9001/rpc",
		"search": "http://localhost:9002/rpc",
	})

	_, err := r.Resolve("wether")
	if err == nil {
		t.Fatal("Resolve succeeded for an unknown server")
	}
	var unknown *UnknownServerError
	if !errors.As(err, &unknown) {
		t.Fatalf("error is %T, want *UnknownServerError", err)
	}
	if unknown.Server != "wether" {
		t.Errorf("Server = %q, want %q", unknown.Server, "wether")
	}
	msg := err.Error()
	if !strings.Contains(msg, "files") || !strings.Contains(msg, "search") {
		t.Errorf("error %q does not list the known servers", msg)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry(map[string]string{
		"zeta":  "http://localhost:1/",
		"alpha": "http://localhost:2/",
		"mid":   "http://localhost:3/",
	})

	got := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Names returned %d names, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry

	if names := r.Names(); names != nil {
		t.Errorf("nil registry Names = %v, want nil", names)
	}
	_, err := r.Resolve("files")
	var unknown *UnknownServerError
	if !errors.As(err, &unknown) {
		t.Fatalf("nil registry Resolve error is %T, want *UnknownServerError", err)
	}
	if !strings.Contains(err.Error(), "no servers configured") {
		t.Errorf("error %q should say no servers are configured", err)
	}
}

func TestRegistry_CopiesInput(t *testing.T) {
	src := map[string]string{"files": "http://localhost:9001/rpc"}
	r := NewRegistry(src)
	src["files"] = "http://evil.example/rpc"

	url, err := r.Resolve("files")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "http://localhost:9001/rpc" {
		t.Errorf("Resolve = %q after mutating the source map", url)
	}
}
