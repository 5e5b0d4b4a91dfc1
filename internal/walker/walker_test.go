// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package walker

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("// x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkRecognizesLanguagesAndSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go")
	writeFile(t, root, "pkg/util.py")
	writeFile(t, root, "web/app.tsx")
	writeFile(t, root, "lib.rs")
	writeFile(t, root, "README.md")
	writeFile(t, root, "node_modules/dep/index.js")
	writeFile(t, root, "vendor/lib/thing.go")
	writeFile(t, root, ".git/HEAD")

	files, err := Walk(root, Options{})
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]Language, len(files))
	for _, f := range files {
		got[f.Path] = f.Language
	}

	want := map[string]Language{
		"main.go":     LangGo,
		"pkg/util.py": LangPython,
		"web/app.tsx": LangTypeScript,
		"lib.rs":      LangRust,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d files %v, want %d files %v", len(got), got, len(want), want)
	}
	for path, lang := range want {
		if got[path] != lang {
			t.Errorf("file %s: got language %q, want %q", path, got[path], lang)
		}
	}
}

func TestWalkIgnoreGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go")
	writeFile(t, root, "a.generated.go")

	files, err := Walk(root, Options{IgnoreGlobs: []string{"*.generated.go"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "a.go" {
		t.Fatalf("expected only a.go, got %v", files)
	}
}

func TestDetectLanguageUnknownExtension(t *testing.T) {
	if _, ok := DetectLanguage("README.md"); ok {
		t.Fatal("expected .md to be unrecognized")
	}
}
