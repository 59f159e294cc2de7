// Package builtin provides the standard tool set offered to the model:
// shell execution with output truncation and background mode, file
// read/write/edit, and glob/grep search over the working tree.
package builtin

import "github.com/banyanlabs/banyan/tool"

// Default returns the standard tool set. Bash options configure the shell
// tool; the rest take their settings from the execution context.
func Default(opts ...BashOption) []tool.Tool {
	return []tool.Tool{
		NewBash(opts...),
		ReadFileTool{},
		WriteFileTool{},
		EditFileTool{},
		GlobTool{},
		GrepTool{},
	}
}
