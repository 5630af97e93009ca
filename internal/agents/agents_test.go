package agents_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/ctxsync/internal/agents"
)

func readJSON(c *qt.C, path string) map[string]any {
	c.Helper()
	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	var doc map[string]any
	c.Assert(json.Unmarshal(data, &doc), qt.IsNil)
	return doc
}

// ---------------------------------------------------------------------------
// ParseAgent
// ---------------------------------------------------------------------------

func TestParseAgent(t *testing.T) {
	c := qt.New(t)

	for in, want := range map[string]agents.Agent{
		"claude":      agents.ClaudeCode,
		"Claude-Code": agents.ClaudeCode,
		"cursor":      agents.Cursor,
		" codex ":     agents.Codex,
		"opencode":    agents.OpenCode,
	} {
		got, err := agents.ParseAgent(in)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, want)
	}

	_, err := agents.ParseAgent("vim")
	c.Assert(err, qt.ErrorIs, agents.ErrUnknownAgent)
}

// ---------------------------------------------------------------------------
// ConfigPath
// ---------------------------------------------------------------------------

func TestConfigPath(t *testing.T) {
	c := qt.New(t)
	home := "/home/u"
	proj := "/src/app"

	cases := []struct {
		target agents.Target
		want   string
	}{
		{agents.Target{Agent: agents.ClaudeCode, UserHome: home}, "/home/u/.claude.json"},
		{agents.Target{Agent: agents.ClaudeCode, UserHome: home, Project: proj}, "/src/app/.mcp.json"},
		{agents.Target{Agent: agents.Cursor, UserHome: home}, "/home/u/.cursor/mcp.json"},
		{agents.Target{Agent: agents.Cursor, Project: proj}, "/src/app/.cursor/mcp.json"},
		{agents.Target{Agent: agents.Codex, UserHome: home}, "/home/u/.codex/config.toml"},
		{agents.Target{Agent: agents.OpenCode, UserHome: home}, "/home/u/.config/opencode/opencode.json"},
		{agents.Target{Agent: agents.OpenCode, Project: proj}, "/src/app/opencode.json"},
	}
	for _, tc := range cases {
		got, err := agents.ConfigPath(tc.target)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, filepath.FromSlash(tc.want))
	}

	_, err := agents.ConfigPath(agents.Target{Agent: agents.Codex, Project: proj})
	c.Assert(err, qt.ErrorMatches, ".*codex has no project-scoped config")
}

// ---------------------------------------------------------------------------
// JSON agents
// ---------------------------------------------------------------------------

func TestInstallJSON_HappyPath(t *testing.T) {
	c := qt.New(t)
	home := c.TempDir()
	target := agents.Target{
		Agent:    agents.ClaudeCode,
		UserHome: home,
		Args:     []string{"--server", "http://127.0.0.1:6060"},
	}
	path := filepath.Join(home, ".claude.json")
	c.Assert(os.WriteFile(path, []byte(`{"theme":"dark","mcpServers":{"other":{"command":"x"}}}`), 0o600), qt.IsNil)

	res, err := agents.Install(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res, qt.Equals, agents.Result{Path: path, Changed: true})

	doc := readJSON(c, path)
	c.Assert(doc["theme"], qt.Equals, "dark")
	servers := doc["mcpServers"].(map[string]any)
	c.Assert(servers["other"], qt.IsNotNil)
	c.Assert(servers["ctxsync"], qt.DeepEquals, map[string]any{
		"type":    "stdio",
		"command": "ctxsync",
		"args":    []any{"mcp", "--server", "http://127.0.0.1:6060"},
	})

	c.Run("reinstall is a no-op", func(c *qt.C) {
		res, err := agents.Install(target)
		c.Assert(err, qt.IsNil)
		c.Assert(res.Changed, qt.IsFalse)
	})

	c.Run("changed args refresh the entry", func(c *qt.C) {
		t2 := target
		t2.Args = []string{"--who", "claude"}
		res, err := agents.Install(t2)
		c.Assert(err, qt.IsNil)
		c.Assert(res.Changed, qt.IsTrue)
		servers := readJSON(c, path)["mcpServers"].(map[string]any)
		c.Assert(servers["ctxsync"].(map[string]any)["args"], qt.DeepEquals, []any{"mcp", "--who", "claude"})
	})

	c.Run("uninstall keeps other entries", func(c *qt.C) {
		res, err := agents.Uninstall(target)
		c.Assert(err, qt.IsNil)
		c.Assert(res.Changed, qt.IsTrue)
		doc := readJSON(c, path)
		c.Assert(doc["theme"], qt.Equals, "dark")
		servers := doc["mcpServers"].(map[string]any)
		c.Assert(servers, qt.HasLen, 1)

		res, err = agents.Uninstall(target)
		c.Assert(err, qt.IsNil)
		c.Assert(res.Changed, qt.IsFalse)
	})
}

func TestInstallOpenCode_HappyPath(t *testing.T) {
	c := qt.New(t)
	proj := c.TempDir()
	target := agents.Target{Agent: agents.OpenCode, Project: proj}

	res, err := agents.Install(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)

	doc := readJSON(c, filepath.Join(proj, "opencode.json"))
	c.Assert(doc["mcp"], qt.DeepEquals, map[string]any{
		"ctxsync": map[string]any{"type": "local", "command": []any{"ctxsync", "mcp"}},
	})

	res, err = agents.Uninstall(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)
	_, err = os.Stat(filepath.Join(proj, "opencode.json"))
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestInstallJSON_FailurePath(t *testing.T) {
	c := qt.New(t)
	home := c.TempDir()
	path := filepath.Join(home, ".cursor", "mcp.json")
	c.Assert(os.MkdirAll(filepath.Dir(path), 0o755), qt.IsNil)
	c.Assert(os.WriteFile(path, []byte(`{not json`), 0o600), qt.IsNil)

	_, err := agents.Install(agents.Target{Agent: agents.Cursor, UserHome: home})
	c.Assert(err, qt.ErrorMatches, `agents.Install: .*mcp.json: parse: .*`)

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `{not json`)
}

func TestUninstall_MissingFile(t *testing.T) {
	c := qt.New(t)
	home := c.TempDir()

	for _, a := range agents.All {
		res, err := agents.Uninstall(agents.Target{Agent: a, UserHome: home})
		c.Assert(err, qt.IsNil)
		c.Assert(res.Changed, qt.IsFalse)
	}
}

// ---------------------------------------------------------------------------
// Codex (TOML)
// ---------------------------------------------------------------------------

func TestInstallCodex_HappyPath(t *testing.T) {
	c := qt.New(t)
	home := c.TempDir()
	path := filepath.Join(home, ".codex", "config.toml")
	c.Assert(os.MkdirAll(filepath.Dir(path), 0o755), qt.IsNil)
	c.Assert(os.WriteFile(path, []byte("model = \"o3\"\n\n[mcp_servers.other]\ncommand = \"x\"\n"), 0o600), qt.IsNil)

	target := agents.Target{Agent: agents.Codex, UserHome: home, Args: []string{"--who", "codex"}}
	res, err := agents.Install(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	text := string(data)
	c.Assert(text, qt.Contains, "[mcp_servers.ctxsync]")
	c.Assert(text, qt.Contains, "[mcp_servers.other]")
	c.Assert(strings.Contains(text, `model = "o3"`), qt.IsTrue)

	res, err = agents.Install(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsFalse)

	res, err = agents.Uninstall(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)
	data, err = os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Not(qt.Contains), "ctxsync")
	c.Assert(string(data), qt.Contains, "[mcp_servers.other]")
}

func TestInstallCodex_RemovesEmptyFile(t *testing.T) {
	c := qt.New(t)
	home := c.TempDir()
	target := agents.Target{Agent: agents.Codex, UserHome: home}

	res, err := agents.Install(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)

	res, err = agents.Uninstall(target)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)
	_, err = os.Stat(res.Path)
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}
