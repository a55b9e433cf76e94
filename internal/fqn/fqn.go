package fqn

import (
	"path/filepath"
	"strings"
)

// Module returns the dotted module name for a source file path relative to
// the repository root.
// Examples:
//   - app/utils/parser.py  -> app.utils.parser
//   - app/__init__.py      -> app
//   - src/index.ts         -> src
func Module(relPath string) string {
	relPath = strings.TrimSuffix(relPath, filepath.Ext(relPath))
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	// For Python __init__.py, drop the __init__ part
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	// For JS/TS index files
	if len(parts) > 0 && parts[len(parts)-1] == "index" {
		parts = parts[:len(parts)-1]
	}

	return strings.Join(parts, ".")
}

// Qualified returns the in-file qualified name of a function, joining the
// enclosing scope chain (classes and outer functions) with the name.
func Qualified(scope []string, name string) string {
	if len(scope) == 0 {
		return name
	}
	return strings.Join(append(append([]string{}, scope...), name), ".")
}

// Full returns the repository-wide name of a function: module plus the
// in-file qualified name.
func Full(module, qualified string) string {
	if module == "" {
		return qualified
	}
	return module + "." + qualified
}

// ClassOf returns the class part of a qualified name for a method
// (the segment before the last one), or "" for top-level functions.
func ClassOf(qualified string) string {
	parts := strings.Split(qualified, ".")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], ".")
}

// LastSegment returns the final dotted segment of a name; it maps an
// annotation like demo.DemoApp.Foo to the bare class name Foo.
func LastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
