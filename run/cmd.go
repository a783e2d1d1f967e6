package run

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/femnad/mare"
	marecmd "github.com/femnad/mare/cmd"

	"github.com/femnad/drup/entity"
	"github.com/femnad/drup/internal"
	"github.com/femnad/drup/settings"
)

const (
	cmdSeparator = " && "
	unknownCode  = -1
)

// Runner executes a single install step.
type Runner interface {
	Run(step entity.Step) error
}

var (
	_ Runner = StreamRunner{}
	_ Runner = CaptureRunner{}
)

// ExitError is a step which ran but exited unsuccessfully.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// StepError reports the step which stopped an install.
type StepError struct {
	Index int
	Step  entity.Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("install command #%d %q failed: %v", e.Index+1, e.Step.Command, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StreamRunner runs steps as child processes sharing this process' standard streams.
type StreamRunner struct {
	Settings settings.Settings
}

func (r StreamRunner) Run(step entity.Step) error {
	cmd := exec.Command(step.Program, step.Args...)
	cmd.Dir = step.Dir
	cmd.Env = r.Settings.Overlay(step.Env).EnvList()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Err: err}
	}

	return err
}

// CaptureRunner runs steps in a shell, capturing their output instead of streaming it.
type CaptureRunner struct {
	Settings settings.Settings
}

func (r CaptureRunner) Run(step entity.Step) error {
	input := marecmd.Input{Command: step.Command, Pwd: step.Dir, Shell: true, Env: r.Settings.Overlay(step.Env).Env()}
	out, err := marecmd.RunFmtErr(input)
	if out.Stdout != "" {
		internal.Log.Debugf("Output of %s: %s", step, strings.TrimSpace(out.Stdout))
	}
	if err != nil {
		code := out.Code
		if code == 0 {
			code = unknownCode
		}
		return &ExitError{Code: code, Err: err}
	}

	return nil
}

func changeDir(step entity.Step, cur string) (string, error) {
	var dir string
	if len(step.Args) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = home
	} else {
		dir = mare.ExpandUser(step.Args[0])
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cur, dir)
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return "", &ExitError{Code: 1, Err: err}
	}
	if !fi.IsDir() {
		return "", &ExitError{Code: 1, Err: fmt.Errorf("cd: %s is not a directory", dir)}
	}

	return dir, nil
}

func exportEnv(step entity.Step, env map[string]string) {
	for _, arg := range step.Args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			continue
		}
		env[key] = value
	}
}

// Steps runs steps in order, stopping at the first one that fails. Directory changes and exports made by builtin
// steps apply to every step after them.
func Steps(runner Runner, steps []entity.Step) error {
	var dir string
	env := map[string]string{}

	for i, step := range steps {
		if dir != "" {
			step.Dir = dir
		}
		if len(env) > 0 {
			stepEnv := make(map[string]string, len(env)+len(step.Env))
			for k, v := range env {
				stepEnv[k] = v
			}
			for k, v := range step.Env {
				stepEnv[k] = v
			}
			step.Env = stepEnv
		}

		if step.Dir == "" {
			internal.Log.Debugf("Running command %s", step)
		} else {
			internal.Log.Debugf("Running command %s under path %s", step, step.Dir)
		}

		var err error
		switch step.Builtin {
		case entity.BuiltinCd:
			var newDir string
			newDir, err = changeDir(step, step.Dir)
			if err == nil {
				dir = newDir
			}
		case entity.BuiltinExport:
			exportEnv(step, env)
		default:
			err = runner.Run(step)
		}
		if err != nil {
			return &StepError{Index: i, Step: step, Err: err}
		}
	}

	return nil
}

// CommandLine renders the shell equivalent of running commands in order under dir.
func CommandLine(dir string, commands []string) string {
	parts := append([]string{fmt.Sprintf("cd %s", dir)}, commands...)
	return strings.Join(parts, cmdSeparator)
}

// ExitCode returns the exit code carried by err, or -1 if it has none.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var execErr *exec.ExitError
	if errors.As(err, &execErr) {
		return execErr.ExitCode()
	}

	return unknownCode
}
