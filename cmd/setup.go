package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// serverName is the key graphflow registers under "mcpServers".
const serverName = "graphflow"

// client describes where an MCP client keeps its configuration.
type client struct {
	name  string
	label string
	dir   string
	// file is the project-local file name.
	file string
}

var clients = map[string]client{
	"claude": {name: "claude", label: "Claude Code", dir: ".claude", file: "settings.json"},
	"cursor": {name: "cursor", label: "Cursor", dir: ".cursor", file: "mcp.json"},
	"qwen":   {name: "qwen", label: "Qwen", dir: ".qwen", file: "mcp.json"},
}

// SetupCmd writes MCP client configuration that launches graphflow serve.
type SetupCmd struct {
	Dataset  string   `arg:"" optional:"" help:"Dataset file or directory to serve (default: current directory)"`
	Client   []string `short:"C" enum:"claude,cursor,qwen" help:"Clients to configure (claude|cursor|qwen); none prints the config"`
	Local    bool     `help:"Create project-local configuration"`
	Global   bool     `help:"Create global configuration"`
	Format   string   `help:"Output format (json|text)" enum:"json,text" default:"json"`
	FilePath string   `help:"Custom directory for local configuration"`
	NoWatch  bool     `help:"Do not pass --watch to serve"`
}

// Run executes the setup command.
func (c *SetupCmd) Run(g *Globals) error {
	if c.Format != "json" && c.Format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Format)
	}

	entry, err := c.serverEntry()
	if err != nil {
		return err
	}

	if len(c.Client) == 0 {
		content, err := render(map[string]any{"mcpServers": map[string]any{serverName: entry}}, c.Format)
		if err != nil {
			return err
		}
		_, err = g.out().Write(content)
		return err
	}

	// Local is the default target
	if !c.Local && !c.Global {
		c.Local = true
	}

	for _, name := range c.Client {
		cl, ok := clients[name]
		if !ok {
			return fmt.Errorf("unknown client: %s", name)
		}
		if c.Global {
			path := globalConfigPath(cl)
			if err := writeConfig(path, entry, c.Format); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(g.out(), "✓ Created global %s MCP config at %s\n", cl.label, path)
		}
		if c.Local {
			path := localConfigPath(".", cl)
			if c.FilePath != "" {
				path = filepath.Join(c.FilePath, cl.file)
			}
			if err := writeConfig(path, entry, c.Format); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(g.out(), "✓ Created local %s MCP config at %s\n", cl.label, path)
		}
	}
	return nil
}

// serverEntry builds the mcpServers entry for the dataset path.
func (c *SetupCmd) serverEntry() (map[string]any, error) {
	dataset := c.Dataset
	if dataset == "" {
		dataset = "."
	}
	abs, err := filepath.Abs(dataset)
	if err != nil {
		return nil, fmt.Errorf("resolving dataset path: %w", err)
	}
	args := []string{"serve", abs}
	if !c.NoWatch {
		args = append(args, "--watch")
	}
	return map[string]any{
		"command": "graphflow",
		"args":    args,
	}, nil
}

// Path helpers

func localConfigPath(basePath string, cl client) string {
	return filepath.Join(basePath, cl.dir, cl.file)
}

func globalConfigPath(cl client) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
	}
	return filepath.Join(homeDir, cl.dir, "global", "mcp.json")
}

// Config writers

// writeConfig adds the graphflow entry to the JSON config at path, keeping
// any other servers and settings already there. Text output overwrites.
func writeConfig(path string, entry map[string]any, format string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	config := map[string]any{}
	if format == "json" {
		existing, err := os.ReadFile(path)
		switch {
		case err == nil && len(strings.TrimSpace(string(existing))) > 0:
			if err := json.Unmarshal(existing, &config); err != nil {
				return fmt.Errorf("parsing existing config %s: %w", path, err)
			}
		case err != nil && !os.IsNotExist(err):
			return fmt.Errorf("reading existing config: %w", err)
		}
	}

	servers, _ := config["mcpServers"].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}
	servers[serverName] = entry
	config["mcpServers"] = servers

	content, err := render(config, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func render(config map[string]any, format string) ([]byte, error) {
	if format == "json" {
		content, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling JSON: %w", err)
		}
		return append(content, '\n'), nil
	}

	var sb strings.Builder
	sb.WriteString("# MCP Configuration for graphflow\n")
	sb.WriteString("# Generated by graphflow setup\n\n")
	keys := make([]string, 0, len(config))
	for key := range config {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", key, toJSON(config[key]))
	}
	return []byte(sb.String()), nil
}
