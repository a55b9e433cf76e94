package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// setTestHome overrides the home directory for both Unix (HOME) and Windows (USERPROFILE).
func setTestHome(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}

// exeSuffix returns ".exe" on Windows, empty string otherwise.
func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

func quietConfig() installConfig {
	return installConfig{out: io.Discard}
}

func TestFindCLI_NotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	setTestHome(t, t.TempDir())

	result := findCLI("nonexistent-binary-xyz")
	if result != "" {
		t.Fatalf("expected empty string for nonexistent CLI, got %q", result)
	}
}

func TestFindCLI_FoundOnPATH(t *testing.T) {
	tmpDir := t.TempDir()

	fakeBin := filepath.Join(tmpDir, "fakecli"+exeSuffix())
	if err := os.WriteFile(fakeBin, []byte("#!/bin/sh\n"), 0o600); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	if err := os.Chmod(fakeBin, 0o500); err != nil {
		t.Fatalf("chmod fake binary: %v", err)
	}

	t.Setenv("PATH", tmpDir)
	result := findCLI("fakecli" + exeSuffix())
	if result == "" {
		t.Fatal("expected to find fakecli on PATH")
	}
}

func TestFindCLI_FallbackPaths(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fallback paths use Unix-specific locations")
	}

	home := t.TempDir()
	setTestHome(t, home)
	t.Setenv("PATH", t.TempDir())

	localBin := filepath.Join(home, ".local", "bin")
	if err := os.MkdirAll(localBin, 0o750); err != nil {
		t.Fatal(err)
	}
	fakeBin := filepath.Join(localBin, "testcli")
	if err := os.WriteFile(fakeBin, []byte("#!/bin/sh\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(fakeBin, 0o500); err != nil {
		t.Fatal(err)
	}

	result := findCLI("testcli")
	if result != fakeBin {
		t.Fatalf("expected %q, got %q", fakeBin, result)
	}
}

func TestDetectBinaryPath(t *testing.T) {
	path, err := detectBinaryPath()
	if err != nil {
		t.Fatalf("detectBinaryPath error: %v", err)
	}
	if path == "" {
		t.Fatal("detectBinaryPath returned empty string")
	}
	if !filepath.IsAbs(path) {
		t.Fatalf("expected absolute path, got %q", path)
	}
}

func TestDetectShellRC(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell RC detection is Unix-specific")
	}

	home := t.TempDir()
	setTestHome(t, home)

	tests := []struct {
		shell    string
		expected string
	}{
		{"/bin/zsh", ".zshrc"},
		{"/bin/bash", ".bash_profile"},
		{"/usr/bin/fish", filepath.Join(".config", "fish", "config.fish")},
		{"/bin/sh", ".profile"},
	}

	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			t.Setenv("SHELL", tt.shell)
			rc := detectShellRC()
			if rc == "" {
				t.Fatal("detectShellRC returned empty")
			}
			if !strings.HasSuffix(rc, tt.expected) {
				t.Fatalf("for shell %q: got %q, want suffix %q", tt.shell, rc, tt.expected)
			}
		})
	}
}

func TestDetectShellRC_BashWithBashrc(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell RC detection is Unix-specific")
	}

	home := t.TempDir()
	setTestHome(t, home)
	t.Setenv("SHELL", "/bin/bash")

	bashrc := filepath.Join(home, ".bashrc")
	if err := os.WriteFile(bashrc, []byte("# test\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	rc := detectShellRC()
	if rc != bashrc {
		t.Fatalf("expected %q, got %q", bashrc, rc)
	}
}

func TestEnsurePATHAppendsToRC(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell RC handling is Unix-specific")
	}

	home := t.TempDir()
	setTestHome(t, home)
	t.Setenv("SHELL", "/bin/zsh")
	t.Setenv("PATH", t.TempDir())

	binDir := filepath.Join(home, "bin")
	if err := os.MkdirAll(binDir, 0o750); err != nil {
		t.Fatal(err)
	}
	binaryPath := filepath.Join(binDir, "codetree")

	ensurePATH(binaryPath, quietConfig())

	data, err := os.ReadFile(filepath.Join(home, ".zshrc"))
	if err != nil {
		t.Fatalf("read .zshrc: %v", err)
	}
	want := "export PATH=\"" + binDir + ":$PATH\""
	if !strings.Contains(string(data), want) {
		t.Fatalf(".zshrc missing PATH line %q, got:\n%s", want, data)
	}

	// Second run must not duplicate the line
	ensurePATH(binaryPath, quietConfig())
	data, err = os.ReadFile(filepath.Join(home, ".zshrc"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), want) != 1 {
		t.Fatalf("PATH line duplicated in .zshrc:\n%s", data)
	}
}

func TestUpsertCodexMCP(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.toml")
	binaryPath := "/usr/local/bin/codetree"
	section := "\n[mcp_servers.codetree]\ncommand = \"" + binaryPath + "\"\nargs = [\"serve\"]\n"

	if err := upsertCodexMCP(configFile, section, binaryPath); err != nil {
		t.Fatalf("upsert into missing file: %v", err)
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[mcp_servers.codetree]") {
		t.Fatalf("section not written:\n%s", data)
	}

	// Upsert again with a new binary path replaces the old section
	newBinary := "/opt/codetree/bin/codetree"
	newSection := "\n[mcp_servers.codetree]\ncommand = \"" + newBinary + "\"\nargs = [\"serve\"]\n"
	if err := upsertCodexMCP(configFile, newSection, newBinary); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	data, err = os.ReadFile(configFile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "[mcp_servers.codetree]") != 1 {
		t.Fatalf("duplicate sections:\n%s", data)
	}
	if !strings.Contains(string(data), newBinary) {
		t.Fatalf("binary path not updated:\n%s", data)
	}
	if strings.Contains(string(data), binaryPath) {
		t.Fatalf("old binary path still present:\n%s", data)
	}
}

func TestUpsertCodexMCPPreservesOtherSections(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.toml")

	existing := "[mcp_servers.other]\ncommand = \"/usr/bin/other\"\n\n[mcp_servers.codetree]\ncommand = \"/old/codetree\"\n\n[profile]\nmodel = \"gpt\"\n"
	if err := os.WriteFile(configFile, []byte(existing), 0o600); err != nil {
		t.Fatal(err)
	}

	section := "\n[mcp_servers.codetree]\ncommand = \"/new/codetree\"\nargs = [\"serve\"]\n"
	if err := upsertCodexMCP(configFile, section, "/new/codetree"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "[mcp_servers.other]") {
		t.Fatal("other server section was removed")
	}
	if !strings.Contains(text, "[profile]") {
		t.Fatal("profile section was removed")
	}
	if !strings.Contains(text, "/new/codetree") {
		t.Fatal("codetree section not updated")
	}
}

func TestRemoveCodexMCP(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)

	configDir := filepath.Join(home, ".codex")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		t.Fatal(err)
	}
	existing := "[mcp_servers.other]\ncommand = \"/usr/bin/other\"\n\n[mcp_servers.codetree]\ncommand = \"/usr/local/bin/codetree\"\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(existing), 0o600); err != nil {
		t.Fatal(err)
	}

	removeCodexMCP(quietConfig())

	data, err := os.ReadFile(filepath.Join(configDir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "[mcp_servers.codetree]") {
		t.Fatalf("codetree section still present:\n%s", data)
	}
	if !strings.Contains(string(data), "[mcp_servers.other]") {
		t.Fatalf("other section was removed:\n%s", data)
	}
}

func TestEditorMCPInstall(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)

	configPath := filepath.Join(home, ".cursor", "mcp.json")
	binaryPath := "/usr/local/bin/codetree"

	// First install — creates file from scratch
	installEditorMCP(binaryPath, configPath, "Cursor", quietConfig())

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		t.Fatal("expected mcpServers key")
	}
	entry, ok := servers["codetree"].(map[string]any)
	if !ok {
		t.Fatal("expected codetree entry")
	}
	if cmd, _ := entry["command"].(string); cmd != binaryPath {
		t.Fatalf("expected command %q, got %q", binaryPath, cmd)
	}
}

func TestEditorMCPInstallIdempotent(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)

	configPath := filepath.Join(home, ".cursor", "mcp.json")
	binaryPath := "/usr/local/bin/codetree"

	// Install twice — second install should preserve valid JSON
	installEditorMCP(binaryPath, configPath, "Cursor", quietConfig())
	installEditorMCP(binaryPath, configPath, "Cursor", quietConfig())

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("double install produced invalid JSON: %v", err)
	}
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		t.Fatal("mcpServers is not a map")
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
}

func TestEditorMCPPreservesOtherServers(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)

	configPath := filepath.Join(home, ".cursor", "mcp.json")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		t.Fatal(err)
	}

	// Write config with an existing server
	existing := `{"mcpServers": {"other-server": {"command": "/usr/bin/other"}}}`
	if err := os.WriteFile(configPath, []byte(existing), 0o600); err != nil {
		t.Fatal(err)
	}

	installEditorMCP("/usr/local/bin/codetree", configPath, "Cursor", quietConfig())

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatal(err)
	}
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		t.Fatal("mcpServers is not a map")
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if _, ok = servers["other-server"]; !ok {
		t.Fatal("other-server was removed")
	}
	if _, ok := servers["codetree"]; !ok {
		t.Fatal("codetree not added")
	}
}

func TestEditorMCPUninstall(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)

	configPath := filepath.Join(home, ".cursor", "mcp.json")

	// Install then uninstall
	installEditorMCP("/usr/local/bin/codetree", configPath, "Cursor", quietConfig())
	removeEditorMCP(configPath, "Cursor", quietConfig())

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatal(err)
	}
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		t.Fatal("mcpServers is not a map")
	}
	if _, exists := servers["codetree"]; exists {
		t.Fatal("codetree should be removed after uninstall")
	}
}
