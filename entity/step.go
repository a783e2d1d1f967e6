package entity

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

const (
	BuiltinCd     = "cd"
	BuiltinExport = "export"

	shell          = "sh"
	shellMetaChars = "|&;<>()$`*?[~\n"
	// Chaining or substitution syntax that a tracked builtin can't be emulated with.
	builtinMetaChars = "|&;<>()$`*?[\n"
)

var shellBuiltins = []string{".", "source", "ulimit", "umask", "unset"}

// Step is a single install command, run as Program with Args under Dir.
// Builtin steps aren't run, they change the Dir or Env of the steps following them.
type Step struct {
	Command string            `yaml:"command"`
	Program string            `yaml:"program"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Builtin string            `yaml:"builtin,omitempty"`
}

func (s Step) String() string {
	return s.Command
}

func trackedBuiltin(command string, tokens []string) string {
	head := tokens[0]
	if head != BuiltinCd && head != BuiltinExport {
		return ""
	}
	if strings.ContainsAny(command, builtinMetaChars) {
		return ""
	}
	if head == BuiltinCd && len(tokens) > 2 {
		return ""
	}

	return head
}

func needsShell(command string, tokens []string) bool {
	if strings.ContainsAny(command, shellMetaChars) {
		return true
	}

	head := tokens[0]
	if strings.Contains(head, "=") {
		return true
	}
	for _, builtin := range shellBuiltins {
		if head == builtin {
			return true
		}
	}

	return head == BuiltinCd || head == BuiltinExport
}

// ParseStep splits a command into program and arguments. Commands relying on shell syntax run via sh -c instead,
// plain cd and export commands become builtin steps.
func ParseStep(command, dir string) (Step, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Step{}, fmt.Errorf("empty install command")
	}

	tokens, err := shlex.Split(command)
	if err != nil {
		return Step{}, fmt.Errorf("error parsing install command %s: %v", command, err)
	}
	if len(tokens) == 0 {
		return Step{}, fmt.Errorf("install command %s has no program", command)
	}

	var step Step
	if builtin := trackedBuiltin(command, tokens); builtin != "" {
		step = Step{Command: command, Program: builtin, Dir: dir, Builtin: builtin}
	} else if needsShell(command, tokens) {
		return Step{Command: command, Program: shell, Args: []string{"-c", command}, Dir: dir}, nil
	} else {
		step = Step{Command: command, Program: tokens[0], Dir: dir}
	}

	if len(tokens) > 1 {
		step.Args = tokens[1:]
	}

	return step, nil
}
