package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// mcpServerKey is the name codetree registers under in MCP client configs.
const mcpServerKey = "codetree"

// installConfig holds settings for the install/uninstall commands.
type installConfig struct {
	dryRun bool
	force  bool
	out    io.Writer
}

func installCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "register the MCP server with Claude Code, Codex, Cursor and Windsurf",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "print what would be done without changing anything"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite existing registrations"},
		},
		Action: runInstall,
	}
}

func uninstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "uninstall",
		Usage: "remove the MCP server registrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "print what would be done without changing anything"},
		},
		Action: runUninstall,
	}
}

func runInstall(c *cli.Context) error {
	return doInstall(installConfig{
		dryRun: c.Bool("dry-run"),
		force:  c.Bool("force"),
		out:    c.App.Writer,
	})
}

func doInstall(cfg installConfig) error {
	binaryPath, err := detectBinaryPath()
	if err != nil {
		return err
	}

	fmt.Fprintf(cfg.out, "\ncodetree %s — install\n", version)
	fmt.Fprintf(cfg.out, "Binary: %s\n\n", binaryPath)

	// PATH check
	ensurePATH(binaryPath, cfg)

	fmt.Fprintln(cfg.out)

	// Claude Code MCP registration
	if claudePath := findCLI("claude"); claudePath != "" {
		fmt.Fprintf(cfg.out, "[Claude Code] detected (%s)\n", claudePath)
		registerClaudeCodeMCP(binaryPath, claudePath, cfg)
	} else {
		fmt.Fprintln(cfg.out, "[Claude Code] not found — skipping MCP registration")
	}

	fmt.Fprintln(cfg.out)

	// Codex CLI
	if codexPath := findCLI("codex"); codexPath != "" {
		fmt.Fprintf(cfg.out, "[Codex CLI] detected (%s)\n", codexPath)
		installCodexMCP(binaryPath, cfg)
	} else {
		fmt.Fprintln(cfg.out, "[Codex CLI] not found — skipping")
	}

	fmt.Fprintln(cfg.out)

	// Cursor
	installEditorMCP(binaryPath, cursorConfigPath(), "Cursor", cfg)

	// Windsurf
	installEditorMCP(binaryPath, windsurfConfigPath(), "Windsurf", cfg)

	fmt.Fprintln(cfg.out, "\nDone. Restart Claude Code / Codex / Cursor / Windsurf to activate.")
	return nil
}

func runUninstall(c *cli.Context) error {
	cfg := installConfig{
		dryRun: c.Bool("dry-run"),
		out:    c.App.Writer,
	}

	fmt.Fprintf(cfg.out, "\ncodetree %s — uninstall\n\n", version)

	// Claude Code MCP deregistration
	if claudePath := findCLI("claude"); claudePath != "" {
		fmt.Fprintf(cfg.out, "[Claude Code] detected (%s)\n", claudePath)
		deregisterMCP(claudePath, "Claude Code", cfg)
	}

	// Codex CLI MCP deregistration
	if codexPath := findCLI("codex"); codexPath != "" {
		fmt.Fprintf(cfg.out, "[Codex CLI] detected (%s)\n", codexPath)
		removeCodexMCP(cfg)
	}

	// Cursor
	removeEditorMCP(cursorConfigPath(), "Cursor", cfg)

	// Windsurf
	removeEditorMCP(windsurfConfigPath(), "Windsurf", cfg)

	fmt.Fprintln(cfg.out, "\nDone. Binary and databases were NOT removed.")
	return nil
}

// detectBinaryPath resolves the current binary's real path.
func detectBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("detect binary: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}
	return resolved, nil
}

// ensurePATH checks if the binary directory is on PATH and offers to add it.
func ensurePATH(binaryPath string, cfg installConfig) {
	binDir := filepath.Dir(binaryPath)
	pathDirs := filepath.SplitList(os.Getenv("PATH"))

	fmt.Fprintln(cfg.out, "[PATH]")
	for _, d := range pathDirs {
		if d == binDir {
			fmt.Fprintf(cfg.out, "  ✓ %s already on PATH\n", binDir)
			return
		}
	}

	fmt.Fprintf(cfg.out, "  ⚠ %s is not on PATH\n", binDir)

	if runtime.GOOS == "windows" {
		fmt.Fprintf(cfg.out, "  → Add %s to your PATH environment variable manually\n", binDir)
		return
	}

	rcFile := detectShellRC()
	if rcFile == "" {
		fmt.Fprintf(cfg.out, "  → Add to your shell profile: export PATH=\"%s:$PATH\"\n", binDir)
		return
	}

	line := fmt.Sprintf("export PATH=\"%s:$PATH\"", binDir)

	// Check if already present in rc file
	if content, err := os.ReadFile(rcFile); err == nil {
		if strings.Contains(string(content), line) {
			fmt.Fprintf(cfg.out, "  ✓ Already in %s (restart terminal to activate)\n", rcFile)
			return
		}
	}

	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would append to %s: %s\n", rcFile, line)
	} else {
		f, err := os.OpenFile(rcFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(cfg.out, "  ⚠ Could not write to %s: %v\n", rcFile, err)
			fmt.Fprintf(cfg.out, "  → Add manually: %s\n", line)
			return
		}
		defer f.Close()
		fmt.Fprintf(f, "\n# Added by codetree install\n%s\n", line)
		fmt.Fprintf(cfg.out, "  ✓ Added to %s: %s\n", rcFile, line)
		fmt.Fprintf(cfg.out, "  → Run: source %s (or restart terminal)\n", rcFile)
	}
}

// detectShellRC returns the appropriate shell rc file path.
func detectShellRC() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	shell := os.Getenv("SHELL")
	switch {
	case strings.HasSuffix(shell, "/zsh"):
		return filepath.Join(home, ".zshrc")
	case strings.HasSuffix(shell, "/bash"):
		// Prefer .bashrc, fall back to .bash_profile
		bashrc := filepath.Join(home, ".bashrc")
		if _, err := os.Stat(bashrc); err == nil {
			return bashrc
		}
		return filepath.Join(home, ".bash_profile")
	case strings.HasSuffix(shell, "/fish"):
		return filepath.Join(home, ".config", "fish", "config.fish")
	default:
		// Fall back to .profile
		return filepath.Join(home, ".profile")
	}
}

// registerClaudeCodeMCP registers the MCP server with Claude Code CLI.
func registerClaudeCodeMCP(binaryPath, claudePath string, cfg installConfig) {
	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would run: %s mcp remove -s user %s\n", claudePath, mcpServerKey)
		fmt.Fprintf(cfg.out, "  [dry-run] Would run: %s mcp add --scope user %s -- %s serve\n", claudePath, mcpServerKey, binaryPath)
	} else {
		// Silent remove (may fail if not registered — that's fine)
		_ = execCLI(claudePath, "mcp", "remove", "-s", "user", mcpServerKey)
		if err := execCLI(claudePath, "mcp", "add", "--scope", "user", mcpServerKey, "--", binaryPath, "serve"); err != nil {
			fmt.Fprintf(cfg.out, "  ⚠ MCP registration failed: %v\n", err)
		} else {
			fmt.Fprintln(cfg.out, "  ✓ MCP server registered (scope: user)")
		}
	}
}

// installCodexMCP registers the MCP server in Codex's config.toml.
func installCodexMCP(binaryPath string, cfg installConfig) {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ Cannot determine home directory: %v\n", err)
		return
	}

	configFile := filepath.Join(home, ".codex", "config.toml")
	mcpSection := fmt.Sprintf("\n[mcp_servers.%s]\ncommand = %q\nargs = [\"serve\"]\n", mcpServerKey, binaryPath)

	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would add MCP server to: %s\n", configFile)
		return
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o750); err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ mkdir %s: %v\n", filepath.Dir(configFile), err)
	} else if err := upsertCodexMCP(configFile, mcpSection, binaryPath); err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ MCP registration failed: %v\n", err)
	} else {
		fmt.Fprintf(cfg.out, "  ✓ MCP server registered: %s\n", configFile)
	}
}

// upsertCodexMCP adds or updates the codetree section in config.toml.
func upsertCodexMCP(configFile, mcpSection, binaryPath string) error {
	content, err := os.ReadFile(configFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	text := string(content)

	// If section already exists, replace it
	sectionHeader := fmt.Sprintf("[mcp_servers.%s]", mcpServerKey)
	if idx := strings.Index(text, sectionHeader); idx >= 0 {
		// Find the end of this section (next [ or EOF)
		rest := text[idx+len(sectionHeader):]
		endIdx := strings.Index(rest, "\n[")
		if endIdx < 0 {
			endIdx = len(rest)
		}
		newSection := fmt.Sprintf("%s\ncommand = %q\nargs = [\"serve\"]\n", sectionHeader, binaryPath)
		text = text[:idx] + newSection + rest[endIdx:]
	} else {
		// Append new section
		text += mcpSection
	}

	return os.WriteFile(configFile, []byte(text), 0o600)
}

// deregisterMCP removes the MCP server registration from a CLI.
func deregisterMCP(cliPath, cliName string, cfg installConfig) {
	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would run: %s mcp remove -s user %s\n", cliPath, mcpServerKey)
	} else {
		if err := execCLI(cliPath, "mcp", "remove", "-s", "user", mcpServerKey); err != nil {
			fmt.Fprintf(cfg.out, "  ⚠ %s MCP deregistration: %v\n", cliName, err)
		} else {
			fmt.Fprintf(cfg.out, "  ✓ %s MCP server deregistered\n", cliName)
		}
	}
}

// removeCodexMCP removes the codetree section from Codex config.toml.
func removeCodexMCP(cfg installConfig) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	configFile := filepath.Join(home, ".codex", "config.toml")
	content, err := os.ReadFile(configFile)
	if err != nil {
		return
	}

	text := string(content)
	sectionHeader := fmt.Sprintf("[mcp_servers.%s]", mcpServerKey)
	idx := strings.Index(text, sectionHeader)
	if idx < 0 {
		return
	}

	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would remove MCP section from: %s\n", configFile)
		return
	}

	// Find end of section (next [ or EOF)
	rest := text[idx+len(sectionHeader):]
	endIdx := strings.Index(rest, "\n[")
	if endIdx < 0 {
		text = strings.TrimRight(text[:idx], "\n")
	} else {
		text = text[:idx] + rest[endIdx+1:]
	}

	if err := os.WriteFile(configFile, []byte(text), 0o600); err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ update %s: %v\n", configFile, err)
	} else {
		fmt.Fprintf(cfg.out, "  ✓ Removed MCP section from: %s\n", configFile)
	}
}

// findCLI locates a CLI binary by name.
func findCLI(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	// Check common install locations
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	candidates := []string{
		"/usr/local/bin/" + name,
		filepath.Join(home, ".npm", "bin", name),
		filepath.Join(home, ".local", "bin", name),
		filepath.Join(home, ".cargo", "bin", name),
	}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, "/opt/homebrew/bin/"+name)
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// execCLI runs a CLI command and returns any error.
func execCLI(path string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// --- Editor MCP config (Cursor, Windsurf) ---

// cursorConfigPath returns the Cursor MCP config path.
func cursorConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cursor", "mcp.json")
}

// windsurfConfigPath returns the Windsurf MCP config path.
func windsurfConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codeium", "windsurf", "mcp_config.json")
}

// installEditorMCP upserts our MCP server entry in an editor's JSON config file.
func installEditorMCP(binaryPath, configPath, editorName string, cfg installConfig) {
	if configPath == "" {
		return
	}

	fmt.Fprintf(cfg.out, "[%s] MCP config: %s\n", editorName, configPath)

	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would upsert %s in %s\n", mcpServerKey, configPath)
		return
	}

	// Read existing config or start fresh
	root := make(map[string]any)
	if data, err := os.ReadFile(configPath); err == nil {
		if jsonErr := json.Unmarshal(data, &root); jsonErr != nil {
			// File exists but is invalid JSON — back up and overwrite
			fmt.Fprintf(cfg.out, "  ⚠ Invalid JSON in %s, overwriting\n", configPath)
			root = make(map[string]any)
		}
	}

	// Ensure mcpServers map exists
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		servers = make(map[string]any)
	}

	// Upsert our server entry
	servers[mcpServerKey] = map[string]any{
		"command": binaryPath,
		"args":    []any{"serve"},
	}
	root["mcpServers"] = servers

	// Write back
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ mkdir %s: %v\n", filepath.Dir(configPath), err)
		return
	}
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ marshal JSON: %v\n", err)
		return
	}
	if err := os.WriteFile(configPath, append(out, '\n'), 0o600); err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ write %s: %v\n", configPath, err)
		return
	}
	fmt.Fprintf(cfg.out, "  ✓ MCP server registered in %s\n", configPath)
}

// removeEditorMCP removes our MCP server entry from an editor's JSON config file.
func removeEditorMCP(configPath, editorName string, cfg installConfig) {
	if configPath == "" {
		return
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return // no config file, nothing to remove
	}

	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return
	}

	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		return
	}
	if _, exists := servers[mcpServerKey]; !exists {
		return
	}

	fmt.Fprintf(cfg.out, "[%s] MCP config: %s\n", editorName, configPath)

	if cfg.dryRun {
		fmt.Fprintf(cfg.out, "  [dry-run] Would remove %s from %s\n", mcpServerKey, configPath)
		return
	}

	delete(servers, mcpServerKey)
	root["mcpServers"] = servers

	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ marshal JSON: %v\n", err)
		return
	}
	if err := os.WriteFile(configPath, append(out, '\n'), 0o600); err != nil {
		fmt.Fprintf(cfg.out, "  ⚠ write %s: %v\n", configPath, err)
		return
	}
	fmt.Fprintf(cfg.out, "  ✓ Removed %s from %s\n", mcpServerKey, configPath)
}
