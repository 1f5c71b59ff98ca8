package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// DefaultShell wraps single-string commands, matching the agent's
// historical wire contract: callers that don't supply a full argv get
// "/bin/sh -c".
var DefaultShell = []string{"/bin/sh", "-c"}

// ExecArgs is the argument shape of the CommandExec operation. Cmd is a
// full argv: Cmd[0] is the binary, the rest its arguments. Whitespace is
// never re-split, so arguments containing spaces are safe.
type ExecArgs struct {
	Cmd []string `json:"cmd"`
}

// ExecStatus is the result of a finished command. A command that ran and
// exited non-zero is a valid result (Success=false), not an operation
// failure; only failure to spawn at all is reported as an error.
type ExecStatus struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ShellCommand builds an ExecArgs that runs cmd through the default shell.
func ShellCommand(cmd string) ExecArgs {
	argv := make([]string, 0, len(DefaultShell)+1)
	argv = append(argv, DefaultShell...)
	argv = append(argv, cmd)
	return ExecArgs{Cmd: argv}
}

// CommandExec runs an arbitrary command on the host and captures its
// output and exit status.
func (h *Host) CommandExec(ctx context.Context, args ExecArgs) (ExecStatus, error) {
	if len(args.Cmd) == 0 {
		return ExecStatus{}, fmt.Errorf("command: empty argv")
	}

	cmd := exec.CommandContext(ctx, args.Cmd[0], args.Cmd[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	status := ExecStatus{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	switch {
	case err == nil:
		status.Success = true
		status.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Could not spawn at all: binary missing, permission denied.
			return ExecStatus{}, fmt.Errorf("command %q: %w", args.Cmd[0], err)
		}
		status.ExitCode = exitErr.ExitCode()
	}
	return status, nil
}

// run executes argv and reports whether it exited zero, for providers that
// only care about the outcome. Spawn failures are returned as errors.
func run(ctx context.Context, argv ...string) (bool, string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return true, out.String(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, out.String(), nil
	}
	return false, out.String(), fmt.Errorf("command %q: %w", argv[0], err)
}

// runChecked executes argv and treats a non-zero exit as an error carrying
// the combined output, for providers where the command must succeed.
func runChecked(ctx context.Context, argv ...string) error {
	ok, out, err := run(ctx, argv...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("command %q failed: %s", argv[0], out)
	}
	return nil
}
