// Package agents registers the ctxsync MCP server with coding agents
// (Claude Code, Cursor, Codex, OpenCode) by editing their MCP config files.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
)

// ServerName is the entry name used in every agent config.
const ServerName = "ctxsync"

// Agent identifies a supported coding agent.
type Agent string

// Supported agents.
const (
	ClaudeCode Agent = "claude-code"
	Cursor     Agent = "cursor"
	Codex      Agent = "codex"
	OpenCode   Agent = "opencode"
)

// All lists the supported agents in display order.
var All = []Agent{ClaudeCode, Cursor, Codex, OpenCode}

// ErrUnknownAgent is returned by ParseAgent for unsupported names.
var ErrUnknownAgent = errors.New("unknown agent")

// ParseAgent resolves an agent name. "claude" is accepted for Claude Code.
func ParseAgent(s string) (Agent, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "claude" {
		return ClaudeCode, nil
	}
	for _, a := range All {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w %q (one of: claude-code, cursor, codex, opencode)", ErrUnknownAgent, s)
}

// Target selects which config file of an agent is edited.
type Target struct {
	Agent Agent
	// UserHome replaces os.UserHomeDir when resolving user-level configs.
	UserHome string
	// Project, when set, selects the project-scoped config under that
	// directory. Codex has no project scope.
	Project string
	// Args follow "ctxsync mcp" in the registered command,
	// e.g. --server and --who.
	Args []string
}

// Result reports what Install or Uninstall did.
type Result struct {
	Path    string
	Changed bool
}

// ConfigPath returns the file Install and Uninstall edit for t.
func ConfigPath(t Target) (string, error) {
	home := t.UserHome
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("agents.ConfigPath: %w", err)
		}
	}
	switch t.Agent {
	case ClaudeCode:
		if t.Project != "" {
			return filepath.Join(t.Project, ".mcp.json"), nil
		}
		return filepath.Join(home, ".claude.json"), nil
	case Cursor:
		if t.Project != "" {
			return filepath.Join(t.Project, ".cursor", "mcp.json"), nil
		}
		return filepath.Join(home, ".cursor", "mcp.json"), nil
	case Codex:
		if t.Project != "" {
			return "", fmt.Errorf("agents.ConfigPath: codex has no project-scoped config")
		}
		return filepath.Join(home, ".codex", "config.toml"), nil
	case OpenCode:
		if t.Project != "" {
			return filepath.Join(t.Project, "opencode.json"), nil
		}
		return filepath.Join(home, ".config", "opencode", "opencode.json"), nil
	}
	return "", fmt.Errorf("agents.ConfigPath: %w %q", ErrUnknownAgent, t.Agent)
}

// Install adds or refreshes the ctxsync entry. An identical entry is left
// untouched and reported as unchanged.
func Install(t Target) (Result, error) {
	path, err := ConfigPath(t)
	if err != nil {
		return Result{}, err
	}
	var changed bool
	if t.Agent == Codex {
		changed, err = installTOML(path, t.Args)
	} else {
		changed, err = installJSON(path, t.Agent, t.Args)
	}
	if err != nil {
		return Result{}, fmt.Errorf("agents.Install: %s: %w", path, err)
	}
	return Result{Path: path, Changed: changed}, nil
}

// Uninstall removes the ctxsync entry. A config file left empty is deleted.
func Uninstall(t Target) (Result, error) {
	path, err := ConfigPath(t)
	if err != nil {
		return Result{}, err
	}
	var changed bool
	if t.Agent == Codex {
		changed, err = uninstallTOML(path)
	} else {
		changed, err = uninstallJSON(path, t.Agent)
	}
	if err != nil {
		return Result{}, fmt.Errorf("agents.Uninstall: %s: %w", path, err)
	}
	return Result{Path: path, Changed: changed}, nil
}

func commandArgs(args []string) []any {
	out := []any{"mcp"}
	for _, a := range args {
		out = append(out, a)
	}
	return out
}

// ---------------------------------------------------------------------------
// JSON configs (Claude Code, Cursor, OpenCode)
// ---------------------------------------------------------------------------

func jsonEntry(agent Agent, args []string) (section string, entry map[string]any) {
	if agent == OpenCode {
		return "mcp", map[string]any{
			"type":    "local",
			"command": append([]any{"ctxsync"}, commandArgs(args)...),
		}
	}
	return "mcpServers", map[string]any{
		"type":    "stdio",
		"command": "ctxsync",
		"args":    commandArgs(args),
	}
}

// readJSON returns an empty document for a missing file. A file that exists
// but does not parse is an error; it is never overwritten.
func readJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- agent config location
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func writeJSON(path string, doc map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644) // #nosec G306 -- MCP server entries hold no secrets
}

func installJSON(path string, agent Agent, args []string) (bool, error) {
	doc, err := readJSON(path)
	if err != nil {
		return false, err
	}
	section, entry := jsonEntry(agent, args)
	servers, _ := doc[section].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
		doc[section] = servers
	}
	if sameJSON(servers[ServerName], entry) {
		return false, nil
	}
	servers[ServerName] = entry
	return true, writeJSON(path, doc)
}

func uninstallJSON(path string, agent Agent) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	doc, err := readJSON(path)
	if err != nil {
		return false, err
	}
	section, _ := jsonEntry(agent, nil)
	servers, _ := doc[section].(map[string]any)
	if _, ok := servers[ServerName]; !ok {
		return false, nil
	}
	delete(servers, ServerName)
	if len(servers) == 0 {
		delete(doc, section)
	}
	if len(doc) == 0 {
		return true, os.Remove(path)
	}
	return true, writeJSON(path, doc)
}

// sameJSON compares a decoded entry with a freshly built one.
func sameJSON(existing any, entry map[string]any) bool {
	if existing == nil {
		return false
	}
	a, errA := json.Marshal(existing)
	b, errB := json.Marshal(entry)
	return errA == nil && errB == nil && string(a) == string(b)
}

// ---------------------------------------------------------------------------
// TOML config (Codex)
// ---------------------------------------------------------------------------

var tomlSection = []string{"mcp_servers", ServerName}

func readTOML(path string) (*toml.Tree, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- agent config location
	if os.IsNotExist(err) {
		return toml.TreeFromMap(map[string]any{})
	}
	if err != nil {
		return nil, err
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tree, nil
}

func writeTOML(path string, tree *toml.Tree) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	s, err := tree.ToTomlString()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644) // #nosec G306 -- MCP server entries hold no secrets
}

func installTOML(path string, args []string) (bool, error) {
	tree, err := readTOML(path)
	if err != nil {
		return false, err
	}
	entry, err := toml.TreeFromMap(map[string]any{
		"command": "ctxsync",
		"args":    commandArgs(args),
	})
	if err != nil {
		return false, err
	}
	if existing, ok := tree.GetPath(tomlSection).(*toml.Tree); ok && sameJSON(existing.ToMap(), entry.ToMap()) {
		return false, nil
	}
	tree.SetPath(tomlSection, entry)
	return true, writeTOML(path, tree)
}

func uninstallTOML(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	tree, err := readTOML(path)
	if err != nil {
		return false, err
	}
	servers, ok := tree.GetPath(tomlSection[:1]).(*toml.Tree)
	if !ok || !servers.Has(ServerName) {
		return false, nil
	}
	if err := servers.Delete(ServerName); err != nil {
		return false, err
	}
	if len(servers.Keys()) == 0 {
		if err := tree.Delete(tomlSection[0]); err != nil {
			return false, err
		}
	}
	if len(tree.Keys()) == 0 {
		return true, os.Remove(path)
	}
	return true, writeTOML(path, tree)
}
