package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kpataki/klaragw/internal/gemini"
)

func TestRegistry_ExecuteBuiltin(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.RegisterBuiltin(gemini.FunctionDeclaration{Name: "echo"}, func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		return text, nil
	})

	got, err := reg.Execute(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hello" {
		t.Errorf("result = %q, want %q", got, "hello")
	}
}

func TestRegistry_UnknownToolError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "make_coffee", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
	if err == nil || !strings.Contains(err.Error(), "make_coffee") {
		t.Errorf("error does not name the missing tool: %v", err)
	}
}

func TestRegistry_BuiltinErrorCarriesToolName(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.RegisterBuiltin(gemini.FunctionDeclaration{Name: "flaky"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("backend down")
	})

	_, err := reg.Execute(context.Background(), "flaky", nil)
	if err == nil || !strings.Contains(err.Error(), "flaky") {
		t.Errorf("error does not name the failing tool: %v", err)
	}
}

func TestRegistry_Declarations(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	RegisterDefaults(reg, nil, nil)

	decls := reg.Declarations()
	names := make(map[string]bool, len(decls))
	for _, d := range decls {
		names[d.Name] = true
	}
	if !names["get_service_status"] || !names["set_reminder"] {
		t.Errorf("default tools missing from declarations: %v", names)
	}
}

func TestGetServiceStatus_MergesLiveStatus(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	RegisterDefaults(reg, nil, func() map[string]any {
		return map[string]any{"sip_registered": true}
	})

	raw, err := reg.Execute(context.Background(), "get_service_status", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if status["database"] != "online" {
		t.Errorf("static status missing: %v", status)
	}
	if status["sip_registered"] != true {
		t.Errorf("live status not merged: %v", status)
	}
}

func TestSetReminder_RequiresText(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	RegisterDefaults(reg, nil, nil)

	if _, err := reg.Execute(context.Background(), "set_reminder", map[string]any{}); err == nil {
		t.Error("set_reminder accepted an empty text argument")
	}

	got, err := reg.Execute(context.Background(), "set_reminder", map[string]any{"text": "water the plants"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "water the plants") {
		t.Errorf("result does not echo the reminder: %q", got)
	}
}
