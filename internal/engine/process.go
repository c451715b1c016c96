package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process runs an external command to completion.
//
// Run blocks until the command exits and returns its exit code. A non-zero
// exit is not an error; err is reserved for commands that could not be
// started or waited on.
type Process interface {
	Run(argv []string) (exitCode int, err error)
}

// ExecProcess runs commands with os/exec, sharing the driver's stdio.
type ExecProcess struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecProcess returns an ExecProcess wired to os.Stdout and os.Stderr.
func NewExecProcess() *ExecProcess {
	return &ExecProcess{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run starts argv[0] with the remaining arguments and waits for it.
// The child is not bound to a context: once started it runs until it
// exits on its own.
func (p *ExecProcess) Run(argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("running %s: %w", argv[0], err)
	}
	return 0, nil
}
