package settings

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/femnad/mare"
)

const (
	defaultUserAgent = "femnad/drup"
	downloadDirKey   = "download_dir"
	extractDirKey    = "extract_dir"
	filenameKey      = "filename"
	pathEnvKey       = "PATH"
	pathSeparator    = ":"
)

type Settings struct {
	DownloadDir string            `yaml:"download_dir,omitempty"`
	EnsureEnv   map[string]string `yaml:"ensure_env,omitempty"`
	EnsurePaths []string          `yaml:"ensure_paths,omitempty"`
	TempRoot    string            `yaml:"temp_root,omitempty"`
	UserAgent   string            `yaml:"user_agent,omitempty"`
}

func (s Settings) GetUserAgent() string {
	if s.UserAgent != "" {
		return s.UserAgent
	}

	return defaultUserAgent
}

// GetTempRoot returns the parent dir for extraction dirs, empty meaning the OS default.
func (s Settings) GetTempRoot() string {
	if s.TempRoot == "" {
		return ""
	}

	return mare.ExpandUser(s.TempRoot)
}

func Expand(s string, lookup map[string]string) string {
	var cur bytes.Buffer
	var out bytes.Buffer
	var backspace bool
	var consuming bool
	var dollar bool

	for _, c := range s {
		if backspace {
			if c != '$' {
				out.WriteRune('\\')
			}
		} else if c == '$' {
			backspace = false
			dollar = true
			continue
		}

		backspace = c == '\\'
		if backspace {
			continue
		}

		if dollar {
			if c == '{' {
				dollar = false
				consuming = true
				continue
			} else {
				out.WriteRune('$')
				dollar = false
			}
		}

		if c == '}' && consuming {
			consuming = false
			curStr := cur.String()
			val, ok := lookup[curStr]
			envLookup := os.Getenv(curStr)
			if ok {
				out.WriteString(val)
			} else if envLookup != "" {
				out.WriteString(envLookup)
			} else {
				orig := fmt.Sprintf("${%s}", curStr)
				out.WriteString(orig)
			}
			cur.Reset()
			continue
		}

		if consuming {
			cur.WriteRune(c)
		} else {
			out.WriteRune(c)
		}
	}

	if dollar {
		out.WriteRune('$')
	}
	if backspace {
		out.WriteRune('\\')
	}
	if consuming {
		out.WriteString("${")
		out.WriteString(cur.String())
	}

	return out.String()
}

// InstallLookup returns the variables available to install commands of a driver being installed under extractDir.
func InstallLookup(downloadDir, extractDir, filename string) map[string]string {
	return map[string]string{
		downloadDirKey: downloadDir,
		extractDirKey:  extractDir,
		filenameKey:    filename,
	}
}

// Overlay returns a copy of the settings with env set on top of the ensured env vars.
func (s Settings) Overlay(env map[string]string) Settings {
	if len(env) == 0 {
		return s
	}

	merged := make(map[string]string, len(s.EnsureEnv)+len(env))
	for k, v := range s.EnsureEnv {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	s.EnsureEnv = merged

	return s
}

// Env returns the current environment amended with ensured env vars and paths, sorted by key.
func (s Settings) Env() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		env[key] = value
	}

	if len(s.EnsurePaths) > 0 {
		ensurePaths := mare.MapToString(s.EnsurePaths, func(p string) string {
			return mare.ExpandUser(p)
		})
		path := strings.Join(ensurePaths, pathSeparator)
		existingPath, ok := env[pathEnvKey]
		if ok && existingPath != "" {
			env[pathEnvKey] = fmt.Sprintf("%s%s%s", existingPath, pathSeparator, path)
		} else {
			env[pathEnvKey] = path
		}
	}

	for k, v := range s.EnsureEnv {
		env[k] = mare.ExpandUser(v)
	}

	return env
}

// EnvList renders Env in the KEY=VALUE form expected by os/exec.
func (s Settings) EnvList() []string {
	env := s.Env()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, fmt.Sprintf("%s=%s", k, env[k]))
	}

	return list
}
