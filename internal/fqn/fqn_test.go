package fqn

import "testing"

func TestModule(t *testing.T) {
	tests := []struct {
		relPath string
		want    string
	}{
		{"app/utils/parser.py", "app.utils.parser"},
		{"app/__init__.py", "app"},
		{"src/index.ts", "src"},
		{"main.py", "main"},
		{"pkg/server/server.go", "pkg.server.server"},
	}
	for _, tt := range tests {
		if got := Module(tt.relPath); got != tt.want {
			t.Errorf("Module(%q) = %q, want %q", tt.relPath, got, tt.want)
		}
	}
}

func TestQualified(t *testing.T) {
	if got := Qualified(nil, "main"); got != "main" {
		t.Errorf("Qualified(nil, main) = %q", got)
	}
	if got := Qualified([]string{"DemoApp"}, "run"); got != "DemoApp.run" {
		t.Errorf("Qualified = %q, want DemoApp.run", got)
	}
	if got := Qualified([]string{"outer", "inner"}, "f"); got != "outer.inner.f" {
		t.Errorf("Qualified = %q, want outer.inner.f", got)
	}
}

func TestFull(t *testing.T) {
	if got := Full("app.demo", "DemoApp.run"); got != "app.demo.DemoApp.run" {
		t.Errorf("Full = %q", got)
	}
	if got := Full("", "main"); got != "main" {
		t.Errorf("Full with empty module = %q", got)
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf("DemoApp.run"); got != "DemoApp" {
		t.Errorf("ClassOf = %q, want DemoApp", got)
	}
	if got := ClassOf("main"); got != "" {
		t.Errorf("ClassOf(main) = %q, want empty", got)
	}
}

func TestLastSegment(t *testing.T) {
	if got := LastSegment("demo.DemoApp.Foo"); got != "Foo" {
		t.Errorf("LastSegment = %q, want Foo", got)
	}
	if got := LastSegment("Foo"); got != "Foo" {
		t.Errorf("LastSegment = %q, want Foo", got)
	}
}
