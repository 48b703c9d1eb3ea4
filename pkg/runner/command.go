// Package runner provides the subprocess invocation used to call out to
// externally registered extensions (the component enumerator and the
// content downloader), grounded on the teacher's
// pkg/common/runner/command.go CommandRunner interface and its
// os/exec-backed default implementation.
package runner

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
)

// CommandRunner abstracts subprocess execution so callers (the component
// enumerator and content downloader bridges) can be tested without spawning
// real processes.
type CommandRunner interface {
	RunCommand(ctx context.Context, name string, args ...string) (string, error)
	RunCommandStdin(ctx context.Context, input string, name string, args ...string) (string, error)
}

// DefaultCommandRunner shells out via os/exec.
type DefaultCommandRunner struct{}

func (DefaultCommandRunner) RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	return DefaultCommandRunner{}.RunCommandStdin(ctx, "", name, args...)
}

func (DefaultCommandRunner) RunCommandStdin(ctx context.Context, input string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = bytes.NewBufferString(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Component("runner").Debug().Str("cmd", name).Strs("args", args).Msg("invoking extension subprocess")

	if err := cmd.Run(); err != nil {
		return stdout.String(), errors.New(errors.CodeComponentSelectionFailed, "runner", "extension subprocess failed", err).
			With("cmd", name).With("stderr", stderr.String())
	}
	return stdout.String(), nil
}

// FakeCommandRunner is a test double that returns a fixed output or error
// regardless of the command invoked.
type FakeCommandRunner struct {
	Output string
	Err    error
}

func (f FakeCommandRunner) RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	return f.Output, f.Err
}

func (f FakeCommandRunner) RunCommandStdin(ctx context.Context, input string, name string, args ...string) (string, error) {
	return f.Output, f.Err
}
