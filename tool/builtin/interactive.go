package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"

	"github.com/banyanlabs/banyan/tool"
)

// NewTerminalRunner returns an InteractiveRunner that executes the command
// in a pseudo-terminal wired to this process's terminal. Stdin is forwarded
// and window resizes propagate for the duration of the command.
func NewTerminalRunner(shell string) InteractiveRunner {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	return func(ctx context.Context, command, dir string) (*tool.Result, error) {
		cmd := exec.Command(shell, "-c", command)
		cmd.Dir = dir

		ptmx, err := pty.Start(cmd)
		if err != nil {
			return tool.ErrorResult(fmt.Sprintf("failed to start: %v", err)), nil
		}
		defer ptmx.Close()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				_ = pty.InheritSize(os.Stdin, ptmx)
			}
		}()
		winch <- syscall.SIGWINCH

		// Abort kills the child; the pty close unblocks the copies.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = cmd.Process.Kill()
			case <-done:
			}
		}()

		go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
		_, _ = io.Copy(os.Stdout, ptmx)

		exitCode := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}

		if exitCode != 0 {
			return tool.ErrorResult(fmt.Sprintf("interactive command exited with code %d", exitCode)), nil
		}
		return tool.TextResult("interactive command finished"), nil
	}
}
