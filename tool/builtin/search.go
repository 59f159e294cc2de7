package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/banyanlabs/banyan/tool"
)

const (
	maxGlobResults = 500
	maxGrepResults = 250
	maxGrepFileSz  = 1 << 20 // skip files larger than 1 MiB
)

var globSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "description": "Glob pattern, ** supported (e.g. src/**/*.go)"},
		"path": {"type": "string", "description": "Directory to search in; defaults to the working directory"}
	},
	"required": ["pattern"]
}`)

// GlobTool finds files matching a glob pattern.
type GlobTool struct{}

func (GlobTool) Name() string  { return "glob" }
func (GlobTool) Label() string { return "Glob" }
func (GlobTool) Description() string {
	return "Finds files matching a glob pattern, ** wildcards included. Results are sorted paths relative to the search root."
}
func (GlobTool) InputSchema() json.RawMessage { return globSchema }

func (GlobTool) Execute(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	var args struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	root := searchRoot(ctx, args.Path)
	matches, err := doublestar.Glob(os.DirFS(root), args.Pattern)
	if err != nil {
		return tool.ErrorResult(fmt.Sprintf("bad pattern: %v", err)), nil
	}
	sort.Strings(matches)

	truncated := false
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
		truncated = true
	}
	if len(matches) == 0 {
		return tool.TextResult("no matches"), nil
	}

	text := strings.Join(matches, "\n")
	if truncated {
		text += fmt.Sprintf("\n[results capped at %d]", maxGlobResults)
	}
	return tool.TextResult(text), nil
}

var grepSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "description": "Regular expression to search for"},
		"path": {"type": "string", "description": "Directory to search in; defaults to the working directory"},
		"include": {"type": "string", "description": "Glob filter on file names (e.g. *.go)"}
	},
	"required": ["pattern"]
}`)

// GrepTool searches file contents with a regular expression.
type GrepTool struct{}

func (GrepTool) Name() string  { return "grep" }
func (GrepTool) Label() string { return "Grep" }
func (GrepTool) Description() string {
	return "Searches file contents recursively with a regular expression and returns path:line:text matches."
}
func (GrepTool) InputSchema() json.RawMessage { return grepSchema }

func (GrepTool) Execute(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	var args struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Include string `json:"include"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return tool.ErrorResult(fmt.Sprintf("bad pattern: %v", err)), nil
	}

	root := searchRoot(ctx, args.Path)
	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || len(out) >= maxGrepResults {
			return filepath.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if args.Include != "" {
			if ok, _ := doublestar.Match(args.Include, name); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSz {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !isText(data) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				out = append(out, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
				if len(out) >= maxGrepResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return tool.ErrorResult(err.Error()), nil
	}

	if len(out) == 0 {
		return tool.TextResult("no matches"), nil
	}
	text := strings.Join(out, "\n")
	if len(out) >= maxGrepResults {
		text += fmt.Sprintf("\n[results capped at %d]", maxGrepResults)
	}
	return tool.TextResult(text), nil
}

func searchRoot(ctx context.Context, path string) string {
	if path != "" {
		return resolvePath(ctx, path)
	}
	return tool.WorkingDirOr(ctx, ".")
}

// isText rejects files with NUL bytes in their first kilobyte.
func isText(data []byte) bool {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return true
}
