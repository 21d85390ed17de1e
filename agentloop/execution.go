package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
)

// ExecResult holds the outcome of a finished command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// CommandRunner runs a program with arguments in dir. A nonzero exit is
// reported through ExecResult, not as an error.
type CommandRunner interface {
	Run(ctx context.Context, dir, program string, args []string) (*ExecResult, error)
}

// sensitiveEnvSuffixes mark variables that are not passed to commands.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// alwaysPassEnv are passed through regardless of suffix.
var alwaysPassEnv = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "GOCACHE": true, "GOFLAGS": true,
	"CARGO_HOME": true, "RUSTUP_HOME": true, "NVM_DIR": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// filterEnvironment drops credentials from env so lint and test commands
// never see the source-control token.
func filterEnvironment(env []string) []string {
	var filtered []string
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if alwaysPassEnv[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// LocalRunner runs commands directly, without a shell.
type LocalRunner struct {
	// Timeout bounds a single command; zero means no bound. Commands are
	// not cancelled by the caller's context once started.
	Timeout time.Duration
	// Env is appended to the filtered process environment.
	Env map[string]string
}

// Run implements CommandRunner.
func (r *LocalRunner) Run(ctx context.Context, dir, program string, args []string) (*ExecResult, error) {
	runCtx := context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole group so test binaries spawned by the command die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	env := filterEnvironment(os.Environ())
	for k, v := range r.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("run %s: %w", program, err)
		}
	}
	return result, nil
}

// SplitCommandLine splits a configured command into program and
// arguments with shell quoting rules. No shell expansion happens.
func SplitCommandLine(line string) (string, []string, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return "", nil, fmt.Errorf("command %q: %w", line, err)
	}
	if len(words) == 0 {
		return "", nil, errors.New("command is empty")
	}
	return words[0], words[1:], nil
}
