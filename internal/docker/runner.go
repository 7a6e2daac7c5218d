// Package docker wraps the docker and docker compose command line tools.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/osa911/stackctl/internal/logging"
)

// Cmd is a single docker invocation. Args exclude the binary.
type Cmd struct {
	Args  []string
	Dir   string
	Env   []string
	Stdin io.Reader
	// Stdout receives the command output as it is produced. When nil the
	// output is buffered into Result.Stdout.
	Stdout io.Writer
	// Stderr mirrors the error stream, which is always captured as well.
	Stderr io.Writer
}

// Result of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes docker commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExitError is returned when docker exits with a non-zero status.
type ExitError struct {
	// Binary defaults to docker.
	Binary string
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	binary := e.Binary
	if binary == "" {
		binary = "docker"
	}
	command := strings.Join(commandName(e.Args), " ")
	if msg == "" {
		return fmt.Sprintf("%s %s exited with code %d", binary, command, e.Code)
	}
	return fmt.Sprintf("%s %s exited with code %d: %s", binary, command, e.Code, msg)
}

// commandName drops flags and their values so errors name the subcommand only.
func commandName(args []string) []string {
	var out []string
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		switch a {
		case "-f", "--file", "-p", "--project-name", "--project-directory", "--env-file":
			skip = true
			continue
		}
		if strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// IsExitError reports whether err carries a docker exit status.
func IsExitError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct {
	Binary string
}

// NewExecRunner returns a runner for the given docker binary.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "docker"
	}
	return &ExecRunner{Binary: binary}
}

func (r *ExecRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	logging.GetGlobalLogger().Debug("Running: %s %s", r.Binary, strings.Join(c.Args, " "))

	cmd := exec.CommandContext(ctx, r.Binary, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = &stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, c.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Binary: filepath.Base(r.Binary), Args: c.Args, Code: res.ExitCode, Stderr: stderr.String()}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return res, fmt.Errorf("%s not found in PATH", r.Binary)
		}
		return res, fmt.Errorf("failed to run %s: %w", r.Binary, err)
	}
	return res, nil
}
