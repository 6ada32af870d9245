package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequest_MarshalOmitsNilParams(t *testing.T) {
	data, err := json.Marshal(NewRequest(7, "tools/list", nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "params") {
		t.Errorf("request with nil params serialized them: %s", s)
	}
	if !strings.Contains(s, `"jsonrpc":"2.0"`) {
		t.Errorf("request missing version: %s", s)
	}
	if !strings.Contains(s, `"id":7`) {
		t.Errorf("request missing id: %s", s)
	}
}

func TestNewRequest_MarshalIncludesParams(t *testing.T) {
	req := NewRequest(1, "tools/call", callToolParams{
		Name:      "read_file",
		Arguments: map[string]any{"path": "/etc/hosts"},
	})
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded struct {
		Params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Params.Name != "read_file" {
		t.Errorf("params.name = %q, want %q", decoded.Params.Name, "read_file")
	}
	if decoded.Params.Arguments["path"] != "/etc/hosts" {
		t.Errorf("params.arguments = %v", decoded.Params.Arguments)
	}
}

func TestResponse_UnmarshalErrorEnvelope(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`
	var resp Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("error envelope decoded without Error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
	if resp.Result != nil {
		t.Errorf("error envelope has result: %s", resp.Result)
	}
}

func TestRPCError_Error(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "method not found"}
	want := "jsonrpc error -32601: method not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
