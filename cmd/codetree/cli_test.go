package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/codetreehq/codetree/internal/registry"
	"github.com/codetreehq/codetree/internal/store"
)

// newTestApp returns the app with output captured and a temp database.
func newTestApp(t *testing.T) (*cli.App, *bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	app := newApp()
	app.Writer = buf
	app.ErrWriter = buf
	dbPath := filepath.Join(t.TempDir(), "codetree.db")
	return app, buf, dbPath
}

func run(t *testing.T, app *cli.App, args ...string) {
	t.Helper()
	if err := app.Run(append([]string{"codetree"}, args...)); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
}

func writeDemoRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"app/demo.py": `from util.math import add

def main():
    total = add(1, 2)
    return total
`,
		"util/math.py": `def add(a, b):
    return a + b
`,
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestVersionFlag(t *testing.T) {
	app, buf, _ := newTestApp(t)
	run(t, app, "--version")
	if !strings.Contains(buf.String(), "codetree") {
		t.Fatalf("version output missing binary name: %q", buf.String())
	}
}

func TestReposEmpty(t *testing.T) {
	app, buf, dbPath := newTestApp(t)
	run(t, app, "--db", dbPath, "repos")
	if !strings.Contains(buf.String(), "no repositories") {
		t.Fatalf("expected empty-repos hint, got: %q", buf.String())
	}
}

func TestBuildAndQuery(t *testing.T) {
	root := writeDemoRepo(t)
	app, buf, dbPath := newTestApp(t)

	run(t, app, "--db", dbPath, "build", "--entry", "app/demo.py:main", root)
	out := buf.String()
	if !strings.Contains(out, "functions") {
		t.Fatalf("build output missing summary: %q", out)
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "repos")
	if !strings.Contains(buf.String(), root) {
		t.Fatalf("repos output missing root %q: %q", root, buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "entries")
	if !strings.Contains(buf.String(), "app.demo.main") {
		t.Fatalf("entries output missing main: %q", buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "functions")
	fns := buf.String()
	for _, want := range []string{"app.demo.main", "util.math.add"} {
		if !strings.Contains(fns, want) {
			t.Fatalf("functions output missing %q: %q", want, fns)
		}
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "functions", "*add*")
	if !strings.Contains(buf.String(), "util.math.add") {
		t.Fatalf("pattern search missed add: %q", buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "function", "app.demo.main")
	detail := buf.String()
	if !strings.Contains(detail, "app.demo.main") || !strings.Contains(detail, "segments") {
		t.Fatalf("function detail incomplete: %q", detail)
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "callees", "app.demo.main")
	if !strings.Contains(buf.String(), "util.math.add") {
		t.Fatalf("callees missing add: %q", buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "callers", "util.math.add")
	if !strings.Contains(buf.String(), "app.demo.main") {
		t.Fatalf("callers missing main: %q", buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "trace", "app.demo.main")
	if !strings.Contains(buf.String(), "util.math.add") {
		t.Fatalf("trace missing add: %q", buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "snippet", "util.math.add")
	if !strings.Contains(buf.String(), "return a + b") {
		t.Fatalf("snippet missing source: %q", buf.String())
	}

	buf.Reset()
	run(t, app, "--db", dbPath, "query", "MATCH (f:Function) RETURN f.name LIMIT 5")
	if !strings.Contains(buf.String(), "add") {
		t.Fatalf("query output missing add: %q", buf.String())
	}
}

func TestFunctionNotFound(t *testing.T) {
	root := writeDemoRepo(t)
	app, buf, dbPath := newTestApp(t)
	run(t, app, "--db", dbPath, "build", root)

	buf.Reset()
	err := app.Run([]string{"codetree", "--db", dbPath, "function", "no.such.thing"})
	if err == nil {
		t.Fatal("expected error for unknown function")
	}
}

func TestInstallDryRun(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)
	t.Setenv("PATH", t.TempDir())

	app, buf, _ := newTestApp(t)
	run(t, app, "install", "--dry-run")
	out := buf.String()
	if !strings.Contains(out, "install") {
		t.Fatalf("install output missing header: %q", out)
	}
	if !strings.Contains(out, "[dry-run]") {
		t.Fatalf("dry-run made no dry-run announcements: %q", out)
	}

	// Nothing may be written in dry-run mode
	if _, err := os.Stat(filepath.Join(home, ".cursor", "mcp.json")); !os.IsNotExist(err) {
		t.Fatal("dry-run wrote cursor config")
	}
	if _, err := os.Stat(filepath.Join(home, ".codex", "config.toml")); !os.IsNotExist(err) {
		t.Fatal("dry-run wrote codex config")
	}
}

func TestUninstallDryRun(t *testing.T) {
	home := t.TempDir()
	setTestHome(t, home)
	t.Setenv("PATH", t.TempDir())

	app, buf, _ := newTestApp(t)
	run(t, app, "uninstall", "--dry-run")
	if !strings.Contains(buf.String(), "uninstall") {
		t.Fatalf("uninstall output missing header: %q", buf.String())
	}
}

func TestParseReuse(t *testing.T) {
	reuse, err := parseReuse("parse,description")
	if err != nil {
		t.Fatal(err)
	}
	if !reuse.Parse || !reuse.Description || reuse.Resolve || reuse.Component {
		t.Fatalf("unexpected selection: %+v", reuse)
	}

	if _, err := parseReuse("parse,bogus"); err == nil {
		t.Fatal("expected error for unknown layer")
	}
}

func TestBuildForce(t *testing.T) {
	root := writeDemoRepo(t)
	app, buf, dbPath := newTestApp(t)

	run(t, app, "--db", dbPath, "build", root)

	// Plant a stale cache entry; a forced rebuild must discard it.
	s, err := store.OpenPath(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	stale := &store.RegistryEntry{FileHash: "stale", SigHash: "stale", Layer: registry.LayerParse, Payload: "{}"}
	if err := s.PutRegistryEntry(stale); err != nil {
		t.Fatal(err)
	}
	s.Close()

	buf.Reset()
	run(t, app, "--db", dbPath, "build", "--force", root)
	if !strings.Contains(buf.String(), "functions") {
		t.Fatalf("forced rebuild output missing summary: %q", buf.String())
	}

	s, err = store.OpenPath(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	e, err := s.GetRegistryEntry("stale", "stale", registry.LayerParse)
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Fatalf("stale entry survived --force: %+v", e)
	}
}

func TestHelpListsCommands(t *testing.T) {
	app, buf, _ := newTestApp(t)
	run(t, app, "--help")
	out := buf.String()
	for _, cmd := range []string{"build", "serve", "functions", "trace", "ask", "links", "install", "update"} {
		if !strings.Contains(out, cmd) {
			t.Fatalf("help missing command %q:\n%s", cmd, out)
		}
	}
}
