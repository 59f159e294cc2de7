package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banyanlabs/banyan/tool"
)

// maxReadBytes caps a single read_file result.
const maxReadBytes = 256 * 1024

var readFileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Path to the file, absolute or relative to the working directory"},
		"offset": {"type": "integer", "minimum": 1, "description": "1-based line number to start reading from"},
		"limit": {"type": "integer", "minimum": 1, "description": "Maximum number of lines to read"}
	},
	"required": ["path"]
}`)

// ReadFileTool reads a file, optionally a line range of it.
type ReadFileTool struct{}

func (ReadFileTool) Name() string  { return "read_file" }
func (ReadFileTool) Label() string { return "Read" }
func (ReadFileTool) Description() string {
	return "Reads a file from the working tree. Use offset and limit to page through large files."
}
func (ReadFileTool) InputSchema() json.RawMessage { return readFileSchema }

func (ReadFileTool) Execute(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	var args struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	path := resolvePath(ctx, args.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return tool.ErrorResult(err.Error()), nil
	}

	text := string(data)
	if args.Offset > 0 || args.Limit > 0 {
		lines := strings.Split(text, "\n")
		start := 0
		if args.Offset > 0 {
			start = args.Offset - 1
		}
		if start >= len(lines) {
			return tool.ErrorResult(fmt.Sprintf("offset %d is beyond the end of the file (%d lines)", args.Offset, len(lines))), nil
		}
		end := len(lines)
		if args.Limit > 0 && start+args.Limit < end {
			end = start + args.Limit
		}
		text = strings.Join(lines[start:end], "\n")
	}

	if len(text) > maxReadBytes {
		text = text[:maxReadBytes] + "\n[truncated; use offset/limit to read more]"
	}
	return tool.TextResult(text), nil
}

var writeFileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Path of the file to write"},
		"content": {"type": "string", "description": "Full content to write"}
	},
	"required": ["path", "content"]
}`)

// WriteFileTool writes a file, creating parent directories as needed.
type WriteFileTool struct{}

func (WriteFileTool) Name() string  { return "write_file" }
func (WriteFileTool) Label() string { return "Write" }
func (WriteFileTool) Description() string {
	return "Writes content to a file, replacing it if it exists. Parent directories are created."
}
func (WriteFileTool) InputSchema() json.RawMessage { return writeFileSchema }

func (WriteFileTool) Execute(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	path := resolvePath(ctx, args.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.ErrorResult(err.Error()), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return tool.ErrorResult(err.Error()), nil
	}
	return tool.TextResult(fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)), nil
}

var editFileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Path of the file to edit"},
		"oldText": {"type": "string", "description": "Exact text to replace; must occur exactly once"},
		"newText": {"type": "string", "description": "Replacement text"}
	},
	"required": ["path", "oldText", "newText"]
}`)

// EditFileTool replaces one occurrence of oldText with newText.
type EditFileTool struct{}

func (EditFileTool) Name() string  { return "edit_file" }
func (EditFileTool) Label() string { return "Edit" }
func (EditFileTool) Description() string {
	return "Replaces an exact text fragment in a file. The fragment must occur exactly once; " +
		"include enough surrounding context to make it unique."
}
func (EditFileTool) InputSchema() json.RawMessage { return editFileSchema }

func (EditFileTool) Execute(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	var args struct {
		Path    string `json:"path"`
		OldText string `json:"oldText"`
		NewText string `json:"newText"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args.OldText == "" {
		return tool.ErrorResult("oldText must not be empty"), nil
	}

	path := resolvePath(ctx, args.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return tool.ErrorResult(err.Error()), nil
	}

	content := string(data)
	switch n := strings.Count(content, args.OldText); {
	case n == 0:
		return tool.ErrorResult("oldText not found in file"), nil
	case n > 1:
		return tool.ErrorResult(fmt.Sprintf("oldText occurs %d times; include more context to make it unique", n)), nil
	}

	updated := strings.Replace(content, args.OldText, args.NewText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return tool.ErrorResult(err.Error()), nil
	}
	return tool.TextResult(fmt.Sprintf("edited %s", args.Path)), nil
}

// resolvePath makes relative paths relative to the session working
// directory carried on the context.
func resolvePath(ctx context.Context, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if dir, ok := tool.WorkingDir(ctx); ok && dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}
