package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kpataki/klaragw/internal/config"
	"github.com/kpataki/klaragw/internal/gemini"
	"github.com/kpataki/klaragw/pkg/logger"
)

// ErrUnknownTool is returned when the model asks for a tool nobody
// registered. The caller turns it into an error payload for the model.
var ErrUnknownTool = errors.New("unknown tool")

// BuiltinFunc is a locally implemented tool.
type BuiltinFunc func(ctx context.Context, args map[string]any) (string, error)

type toolEntry struct {
	decl    gemini.FunctionDeclaration
	builtin BuiltinFunc
	session *mcpsdk.ClientSession
}

// Registry maps tool names to their implementations, local or MCP-backed,
// and produces the function declarations advertised to the model.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]toolEntry
	sessions []*mcpsdk.ClientSession
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]toolEntry)}
}

// RegisterBuiltin adds a local tool. A duplicate name replaces the earlier
// registration.
func (r *Registry) RegisterBuiltin(decl gemini.FunctionDeclaration, fn BuiltinFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[decl.Name] = toolEntry{decl: decl, builtin: fn}
}

// ConnectMCPServer starts or dials one MCP server and registers every tool
// it lists.
func (r *Registry) ConnectMCPServer(ctx context.Context, cfg config.MCPServerConfig) error {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "klaragw", Version: "1.0.0"}, nil)

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case "stdio", "":
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("mcp server %s: empty command", cfg.Name)
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case "http", "streamable":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("mcp server %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect mcp server %s: %w", cfg.Name, err)
	}

	count := 0
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return fmt.Errorf("list tools from %s: %w", cfg.Name, err)
		}
		decl := gemini.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		}
		r.mu.Lock()
		if _, exists := r.tools[tool.Name]; exists {
			logger.Log.Warnf("Tool %s from MCP server %s shadows an earlier registration", tool.Name, cfg.Name)
		}
		r.tools[tool.Name] = toolEntry{decl: decl, session: session}
		r.mu.Unlock()
		count++
	}

	r.mu.Lock()
	r.sessions = append(r.sessions, session)
	r.mu.Unlock()
	logger.Log.Infof("MCP server %s connected, %d tools registered", cfg.Name, count)
	return nil
}

// Declarations returns every registered tool for the session setup message.
func (r *Registry) Declarations() []gemini.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]gemini.FunctionDeclaration, 0, len(r.tools))
	for _, t := range r.tools {
		decls = append(decls, t.decl)
	}
	return decls
}

// Execute runs the named tool and returns its textual result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if t.builtin != nil {
		result, err := t.builtin(ctx, args)
		if err != nil {
			return "", fmt.Errorf("tool %s: %w", name, err)
		}
		return result, nil
	}
	return callMCPTool(ctx, t.session, name, args)
}

// Close shuts down every MCP session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			logger.Log.Warnf("Error closing MCP session: %v", err)
		}
	}
}

func callMCPTool(ctx context.Context, session *mcpsdk.ClientSession, name string, args map[string]any) (string, error) {
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	var sb strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s: %s", name, sb.String())
	}
	return sb.String(), nil
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
