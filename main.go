package main

import (
	"errors"
	"io"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/femnad/drup/entity"
	"github.com/femnad/drup/internal"
	"github.com/femnad/drup/provision"
	"github.com/femnad/drup/run"
	"github.com/femnad/drup/settings"
)

const (
	exitOK   = 0
	exitFail = 1
)

type args struct {
	URL          string            `arg:"-u,--url,required,env:DRUP_URL" help:"URL of the driver archive"`
	Filename     string            `arg:"-f,--filename,env:DRUP_FILENAME" help:"archive filename, defaults to the last element of the URL path"`
	Dir          string            `arg:"-d,--dir,env:DRUP_DIR" default:"./drivers" help:"directory to download the archive to"`
	Cmd          []string          `arg:"-c,--cmd,separate" help:"install command to run in the unpacked archive, can be repeated"`
	DownloadOnly bool              `arg:"--download-only" help:"only download the archive"`
	Capture      bool              `arg:"--capture" help:"capture install command output instead of streaming it"`
	Env          map[string]string `arg:"--env" help:"KEY=VALUE pairs to set for install commands"`
	Path         []string          `arg:"--path,separate" help:"directories to append to PATH for install commands"`
	TempDir      string            `arg:"--temp-dir,env:DRUP_TEMP_DIR" help:"parent directory for extraction dirs"`
	UserAgent    string            `arg:"--user-agent" help:"user agent for downloads"`
	Print        bool              `arg:"--print" help:"print the resolved driver and exit"`
	LogLevel     int               `arg:"-l,--loglevel" default:"4" help:"log level, 0 (critical) to 5 (debug)"`
}

func (args) Version() string {
	return "drup 0.1.0"
}

type resolved struct {
	Driver   entity.Driver     `yaml:"driver"`
	Steps    []entity.Step     `yaml:"steps,omitempty"`
	Settings settings.Settings `yaml:"settings,omitempty"`
}

func (a args) settings() settings.Settings {
	return settings.Settings{
		DownloadDir: a.Dir,
		EnsureEnv:   a.Env,
		EnsurePaths: a.Path,
		TempRoot:    a.TempDir,
		UserAgent:   a.UserAgent,
	}
}

func (a args) driver() (entity.Driver, error) {
	filename := a.Filename
	if filename == "" {
		var err error
		filename, err = entity.FilenameFromURL(a.URL)
		if err != nil {
			return entity.Driver{}, err
		}
	}

	return entity.NewDriver(a.URL, filename, a.Cmd, a.Dir)
}

func printResolved(out io.Writer, d entity.Driver, s settings.Settings) error {
	steps, err := d.Steps("", nil)
	if err != nil {
		return err
	}

	encoder := yaml.NewEncoder(out)
	if err = encoder.Encode(resolved{Driver: d, Steps: steps, Settings: s}); err != nil {
		return err
	}
	return encoder.Close()
}

func reportError(errOut io.Writer, err error) {
	color.New(color.FgRed).Fprintf(errOut, "ERROR: %v\n", err)

	var driverErr *provision.Error
	if errors.As(err, &driverErr) && driverErr.Hint() != "" {
		color.New(color.FgYellow).Fprintln(errOut, driverErr.Hint())
	}

	var stepErr *run.StepError
	if errors.As(err, &stepErr) {
		color.New(color.FgYellow).Fprintf(errOut, "Command %q exited with code %d\n", stepErr.Step.Command, run.ExitCode(err))
	}
}

func runDriver(a args, out, errOut io.Writer) int {
	s := a.settings()
	d, err := a.driver()
	if err != nil {
		reportError(errOut, err)
		return exitFail
	}

	if a.Print {
		if err = printResolved(out, d, s); err != nil {
			reportError(errOut, err)
			return exitFail
		}
		return exitOK
	}

	driver := provision.NewDriver(d, s)
	if a.Capture {
		driver.Runner = run.CaptureRunner{Settings: s}
	}

	if err = driver.Download(); err != nil {
		reportError(errOut, err)
		return exitFail
	}
	if a.DownloadOnly {
		return exitOK
	}

	result, err := driver.Install()
	if err != nil {
		reportError(errOut, err)
		return exitFail
	}

	color.New(color.FgGreen).Fprintf(out, "[driver][%s] Installed from %s\n", d.Filename, result.Dir)
	return exitOK
}

func main() {
	var a args
	arg.MustParse(&a)
	internal.InitLogging(a.LogLevel)

	os.Exit(runDriver(a, os.Stdout, os.Stderr))
}
