package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/tool"
	"github.com/banyanlabs/banyan/types"
)

// killGracePeriod is how long a process group gets between SIGTERM and
// SIGKILL after an abort or timeout.
const killGracePeriod = 250 * time.Millisecond

// updateInterval debounces partial-output updates.
const updateInterval = 200 * time.Millisecond

var bashSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"description": "The shell command to execute"
		},
		"timeout": {
			"type": "integer",
			"minimum": 1,
			"description": "Timeout in seconds; the process tree is killed when exceeded"
		},
		"background": {
			"type": "boolean",
			"description": "Run detached with output redirected to a log file; returns {pid, logFile} immediately"
		}
	},
	"required": ["command"]
}`)

// InteractiveRunner executes a command that needs to own the terminal.
type InteractiveRunner func(ctx context.Context, command, dir string) (*tool.Result, error)

// BashTool executes shell commands in the session working directory with
// merged stdout/stderr, rolling tail truncation, process-group kill on
// abort or timeout, and a detached background mode.
type BashTool struct {
	shell    string
	workDir  string
	maxLines int
	maxBytes int
	log      *zap.Logger

	isInteractive  func(command string) bool
	runInteractive InteractiveRunner
}

// BashOption configures a BashTool.
type BashOption func(*BashTool)

// WithShell sets the shell binary. Defaults to $SHELL, then /bin/bash.
func WithShell(shell string) BashOption {
	return func(b *BashTool) { b.shell = shell }
}

// WithWorkDir sets the fallback working directory used when the context
// carries none.
func WithWorkDir(dir string) BashOption {
	return func(b *BashTool) { b.workDir = dir }
}

// WithOutputLimits sets the tail truncation caps.
func WithOutputLimits(maxLines, maxBytes int) BashOption {
	return func(b *BashTool) {
		b.maxLines = maxLines
		b.maxBytes = maxBytes
	}
}

// WithInteractive installs a predicate over the command text and the
// runner that takes over when it matches.
func WithInteractive(predicate func(command string) bool, runner InteractiveRunner) BashOption {
	return func(b *BashTool) {
		b.isInteractive = predicate
		b.runInteractive = runner
	}
}

// WithBashLogger sets the logger for execution diagnostics.
func WithBashLogger(log *zap.Logger) BashOption {
	return func(b *BashTool) { b.log = log }
}

// NewBash creates the bash tool.
func NewBash(opts ...BashOption) *BashTool {
	b := &BashTool{
		maxLines: DefaultMaxOutputLines,
		maxBytes: DefaultMaxOutputBytes,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.shell == "" {
		b.shell = os.Getenv("SHELL")
	}
	if b.shell == "" {
		b.shell = "/bin/bash"
	}
	return b
}

func (b *BashTool) Name() string  { return "bash" }
func (b *BashTool) Label() string { return "Bash" }

func (b *BashTool) Description() string {
	return "Executes a shell command in the session working directory and returns its combined output. " +
		"Long output is truncated to the tail. Set background=true for long-running processes."
}

func (b *BashTool) InputSchema() json.RawMessage { return bashSchema }

type bashArgs struct {
	Command    string `json:"command"`
	Timeout    int    `json:"timeout"`
	Background bool   `json:"background"`
}

// Execute runs the command. Failures are reported in the result so the
// model can react; only argument decoding returns an error.
func (b *BashTool) Execute(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	var args bashArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	dir := tool.WorkingDirOr(ctx, b.workDir)

	if b.isInteractive != nil && b.isInteractive(args.Command) && b.runInteractive != nil {
		return b.runInteractive(ctx, args.Command, dir)
	}
	if args.Background {
		return b.startBackground(ctx, args.Command, dir)
	}
	return b.runForeground(ctx, args, dir, onUpdate)
}

func (b *BashTool) runForeground(ctx context.Context, args bashArgs, dir string, onUpdate tool.UpdateFunc) (*tool.Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if args.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(args.Timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.Command(b.shell, "-c", args.Command)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return tool.ErrorResult(fmt.Sprintf("failed to start: %v", err)), nil
	}
	pw.Close()

	buf := NewTailBuffer(b.maxLines, b.maxBytes)
	defer buf.Close()

	// Reader goroutine: drain merged output into the tail buffer, emitting
	// debounced partial updates.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		chunk := make([]byte, 8192)
		lastUpdate := time.Now()
		for {
			n, err := pr.Read(chunk)
			if n > 0 {
				_, _ = buf.Write(chunk[:n])
				if onUpdate != nil && time.Since(lastUpdate) >= updateInterval {
					lastUpdate = time.Now()
					onUpdate(tool.Update{Parts: []types.ContentBlock{{
						Type: types.ContentTypeText,
						Text: buf.String(),
					}}})
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Killer goroutine: on abort or timeout, SIGTERM the process group and
	// escalate to SIGKILL after the grace period.
	waitDone := make(chan struct{})
	var killOnce sync.Once
	go func() {
		select {
		case <-runCtx.Done():
			killOnce.Do(func() { killTree(cmd.Process.Pid) })
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	close(waitDone)
	pr.Close()
	<-readDone

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	b.log.Debug("bash finished",
		zap.String("dir", dir),
		zap.Int("exitCode", exitCode),
		zap.Int64("outputBytes", buf.TotalBytes()),
		zap.Bool("truncated", buf.Truncated()),
	)

	text := buf.String()
	if notice := buf.Notice(); notice != "" {
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += notice
	}

	aborted := ctx.Err() == context.Canceled
	timedOut := runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	switch {
	case aborted:
		if text != "" {
			text += "\n"
		}
		text += "(aborted)"
	case timedOut:
		if text != "" {
			text += "\n"
		}
		text += fmt.Sprintf("(killed after %ds timeout)", args.Timeout)
	case exitCode != 0:
		if text != "" {
			text += "\n"
		}
		text += fmt.Sprintf("(exit code %d)", exitCode)
	}

	details, _ := json.Marshal(map[string]any{
		"exitCode":   exitCode,
		"truncated":  buf.Truncated(),
		"spillFile":  buf.SpillPath(),
		"totalBytes": buf.TotalBytes(),
	})

	result := tool.TextResult(text)
	result.Details = details
	result.IsError = aborted || timedOut || exitCode != 0
	return result, nil
}

// startBackground launches the command detached: output is redirected to a
// log file by the shell before backgrounding, so the child inherits no
// parent pipes, and the PID is echoed back.
func (b *BashTool) startBackground(ctx context.Context, command, dir string) (*tool.Result, error) {
	logFile, err := os.CreateTemp("", "banyan-bash-*.log")
	if err != nil {
		return tool.ErrorResult(fmt.Sprintf("create log file: %v", err)), nil
	}
	logPath := logFile.Name()
	logFile.Close()

	wrapped := fmt.Sprintf("{ %s\n} >'%s' 2>&1 </dev/null & echo $!", command, logPath)
	cmd := exec.Command(b.shell, "-c", wrapped)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out, err := cmd.Output()
	if err != nil {
		return tool.ErrorResult(fmt.Sprintf("failed to start in background: %v", err)), nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return tool.ErrorResult(fmt.Sprintf("could not determine background pid from %q", strings.TrimSpace(string(out)))), nil
	}

	b.log.Debug("background command started", zap.Int("pid", pid), zap.String("logFile", logPath))

	details, _ := json.Marshal(map[string]any{"pid": pid, "logFile": logPath})
	result := tool.TextResult(fmt.Sprintf("started in background: pid %d\nlog file: %s", pid, logPath))
	result.Details = details
	return result, nil
}

// killTree terminates the process group: SIGTERM first, SIGKILL after the
// grace period if the group is still alive.
func killTree(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(killGracePeriod)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
