package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banyanlabs/banyan/tool"
)

func execTool(t *testing.T, tl tool.Tool, ctx context.Context, args string) *tool.Result {
	t.Helper()
	res, err := tl.Execute(ctx, tool.Call{ID: "c1", Name: tl.Name(), Arguments: json.RawMessage(args)}, nil)
	if err != nil {
		t.Fatalf("%s: %v", tl.Name(), err)
	}
	return res
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	os.WriteFile(path, []byte("alpha\nbeta\ngamma\ndelta\n"), 0o644)
	ctx := tool.WithWorkingDir(context.Background(), dir)

	res := execTool(t, ReadFileTool{}, ctx, `{"path": "notes.txt"}`)
	if res.IsError || resText(res) != "alpha\nbeta\ngamma\ndelta\n" {
		t.Errorf("full read = %q (isError=%v)", resText(res), res.IsError)
	}

	res = execTool(t, ReadFileTool{}, ctx, `{"path": "notes.txt", "offset": 2, "limit": 2}`)
	if got := resText(res); got != "beta\ngamma" {
		t.Errorf("ranged read = %q", got)
	}

	res = execTool(t, ReadFileTool{}, ctx, `{"path": "notes.txt", "offset": 100}`)
	if !res.IsError || !strings.Contains(resText(res), "beyond the end") {
		t.Errorf("offset past EOF = %q (isError=%v)", resText(res), res.IsError)
	}

	res = execTool(t, ReadFileTool{}, ctx, `{"path": "missing.txt"}`)
	if !res.IsError {
		t.Error("missing file should be an error result")
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	ctx := tool.WithWorkingDir(context.Background(), dir)

	res := execTool(t, WriteFileTool{}, ctx, `{"path": "a/b/c.txt", "content": "hello"}`)
	if res.IsError {
		t.Fatalf("write failed: %s", resText(res))
	}
	data, err := os.ReadFile(filepath.Join(dir, "a", "b", "c.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	ctx := tool.WithWorkingDir(context.Background(), dir)

	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("x := 1\ny := 2\n")
	res := execTool(t, EditFileTool{}, ctx, `{"path": "main.go", "oldText": "y := 2", "newText": "y := 3"}`)
	if res.IsError {
		t.Fatalf("edit failed: %s", resText(res))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "x := 1\ny := 3\n" {
		t.Errorf("content after edit = %q", data)
	}

	res = execTool(t, EditFileTool{}, ctx, `{"path": "main.go", "oldText": "not there", "newText": "z"}`)
	if !res.IsError || !strings.Contains(resText(res), "not found") {
		t.Errorf("missing oldText = %q (isError=%v)", resText(res), res.IsError)
	}

	write("a\na\n")
	res = execTool(t, EditFileTool{}, ctx, `{"path": "main.go", "oldText": "a", "newText": "b"}`)
	if !res.IsError || !strings.Contains(resText(res), "more context") {
		t.Errorf("ambiguous oldText = %q (isError=%v)", resText(res), res.IsError)
	}

	res = execTool(t, EditFileTool{}, ctx, `{"path": "main.go", "oldText": "", "newText": "b"}`)
	if !res.IsError {
		t.Error("empty oldText should be rejected")
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"main.go", "pkg/util.go", "pkg/deep/more.go", "README.md"} {
		full := filepath.Join(dir, p)
		os.MkdirAll(filepath.Dir(full), 0o755)
		os.WriteFile(full, []byte("package x\n"), 0o644)
	}
	ctx := tool.WithWorkingDir(context.Background(), dir)

	res := execTool(t, GlobTool{}, ctx, `{"pattern": "**/*.go"}`)
	got := resText(res)
	for _, want := range []string{"main.go", "pkg/util.go", "pkg/deep/more.go"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in %q", want, got)
		}
	}
	if strings.Contains(got, "README.md") {
		t.Errorf("README.md should not match, got %q", got)
	}

	res = execTool(t, GlobTool{}, ctx, `{"pattern": "*.rs"}`)
	if resText(res) != "no matches" {
		t.Errorf("no-match result = %q", resText(res))
	}
}

func TestGrep(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "one.go"), []byte("package one\n\nfunc Hello() {}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "two.txt"), []byte("hello there\nfunc fake\n"), 0o644)
	// Binary files are skipped.
	os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0, 1, 2, 'f', 'u', 'n', 'c'}, 0o644)
	ctx := tool.WithWorkingDir(context.Background(), dir)

	res := execTool(t, GrepTool{}, ctx, `{"pattern": "^func "}`)
	got := resText(res)
	if !strings.Contains(got, "one.go:3:func Hello() {}") {
		t.Errorf("missing match line, got %q", got)
	}
	if !strings.Contains(got, "two.txt:2:func fake") {
		t.Errorf("missing match line, got %q", got)
	}
	if strings.Contains(got, "blob.bin") {
		t.Errorf("binary file should be skipped, got %q", got)
	}

	res = execTool(t, GrepTool{}, ctx, `{"pattern": "func", "include": "*.go"}`)
	got = resText(res)
	if strings.Contains(got, "two.txt") {
		t.Errorf("include filter should exclude two.txt, got %q", got)
	}

	res = execTool(t, GrepTool{}, ctx, `{"pattern": "[invalid"}`)
	if !res.IsError {
		t.Error("bad regexp should be an error result")
	}

	res = execTool(t, GrepTool{}, ctx, fmt.Sprintf(`{"pattern": "nothing-matches-%d"}`, 42))
	if resText(res) != "no matches" {
		t.Errorf("no-match result = %q", resText(res))
	}
}
