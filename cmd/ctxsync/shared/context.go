// Package shared holds the context passed to all CLI commands.
package shared

import (
	"os"
	"time"

	"github.com/go-ports/ctxsync/internal/client"
	"github.com/go-ports/ctxsync/internal/config"
)

// Context carries global CLI state (flags set on the root command).
type Context struct {
	// Home overrides the ctxsync home directory.
	// When empty, resolution falls through to CTXSYNC_HOME env var → persisted config → ~/.ctxsync.
	Home string
	// ServerURL and Timeout override the client section of config.yaml.
	ServerURL string
	Timeout   time.Duration
	// Who is the actor recorded for writes. Defaults to $USER.
	Who string
	// LogLevel overrides log.level.
	LogLevel string
}

// ResolveHome returns the effective home and how it was chosen.
func (c *Context) ResolveHome() (home, source string) {
	return config.ResolveHome(c.Home)
}

// Config loads config.yaml from the effective home.
func (c *Context) Config() (*config.Config, error) {
	home, _ := c.ResolveHome()
	return config.Load(config.Path(home))
}

// Client returns a request/response client for the configured server.
func (c *Context) Client() (*client.Client, error) {
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	url := cfg.Client.ServerURL
	if c.ServerURL != "" {
		url = c.ServerURL
	}
	timeout := cfg.Client.Timeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	return client.New(url, client.WithTimeout(timeout))
}

// Actor returns the name recorded in history for writes from this process.
func (c *Context) Actor() string {
	if c.Who != "" {
		return c.Who
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
