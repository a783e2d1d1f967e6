package provision

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/femnad/mare"

	"github.com/femnad/drup/entity"
	"github.com/femnad/drup/internal"
	"github.com/femnad/drup/remote"
	"github.com/femnad/drup/run"
	"github.com/femnad/drup/settings"
)

const tempDirSuffix = "-driver"

// InstallResult describes an extracted driver and the commands run on it.
type InstallResult struct {
	Dir         string
	Entries     []string
	Roots       mapset.Set[string]
	CommandLine string
}

// Driver downloads a driver archive and installs it by running its install commands on the unpacked sources.
type Driver struct {
	entity.Driver
	Client   remote.Client
	Runner   run.Runner
	Settings settings.Settings
}

func NewDriver(d entity.Driver, s settings.Settings) *Driver {
	return &Driver{
		Driver:   d,
		Client:   remote.Client{UserAgent: s.GetUserAgent()},
		Runner:   run.StreamRunner{Settings: s},
		Settings: s,
	}
}

func (d *Driver) logPrefix() string {
	return fmt.Sprintf("[driver][%s]", d.Filename)
}

// Download fetches the driver archive unless it's already present at the driver's path.
func (d *Driver) Download() error {
	exists, err := internal.FileExists(d.Path)
	if err != nil {
		return wrap(KindIO, d.Filename, fmt.Sprintf("error checking %s", d.Path), err)
	}
	if exists {
		internal.Log.Infof("%s File exists, skipping...", d.logPrefix())
		return nil
	}
	internal.Log.Noticef("%s Downloading %s", d.logPrefix(), d.URL)

	err = internal.EnsureDirExists(d.Dir)
	if err != nil {
		return wrap(KindIO, d.Filename, fmt.Sprintf("error creating download dir %s", d.Dir), err)
	}

	err = d.Client.Download(d.URL, d.Path)
	if err == nil {
		return nil
	}

	var statusErr *remote.StatusError
	var transportErr *remote.TransportError
	if errors.As(err, &statusErr) {
		return wrap(KindStatus, d.Filename, fmt.Sprintf("retrieved response with non 200 code for url %s", d.URL), err)
	} else if errors.As(err, &transportErr) {
		return wrap(KindTransport, d.Filename, "something went wrong while downloading", err)
	}

	return wrap(KindIO, d.Filename, fmt.Sprintf("error writing %s", d.Path), err)
}

func (d *Driver) runner() run.Runner {
	if d.Runner != nil {
		return d.Runner
	}

	return run.StreamRunner{Settings: d.Settings}
}

// Install unpacks the downloaded archive into a new temporary directory and runs the install commands there.
// The temporary directory is left in place.
func (d *Driver) Install() (InstallResult, error) {
	var result InstallResult

	exists, err := internal.FileExists(d.Path)
	if err != nil {
		return result, wrap(KindIO, d.Filename, fmt.Sprintf("error checking %s", d.Path), err)
	}
	if !exists {
		return result, wrap(KindMissingArchive, d.Filename, fmt.Sprintf("driver was not found at %s", d.Path), nil)
	}

	tmpDir, err := os.MkdirTemp(d.Settings.GetTempRoot(), fmt.Sprintf("*-%s%s", d.Name(), tempDirSuffix))
	if err != nil {
		return result, wrap(KindIO, d.Filename, "error creating extraction dir", err)
	}
	result.Dir = tmpDir

	internal.Log.Noticef("%s Unpacking driver to: %s", d.logPrefix(), tmpDir)
	entries, err := extract(d.Path, tmpDir)
	if err != nil {
		return result, wrap(KindExtract, d.Filename, fmt.Sprintf("error unpacking %s", d.Path), err)
	}
	result.Entries = entries
	result.Roots = archiveRoots(entries)
	internal.Log.Debugf("%s Unpacked %d entries with roots %v", d.logPrefix(), len(entries), result.Roots.ToSlice())

	lookup := settings.InstallLookup(d.Dir, tmpDir, d.Filename)
	steps, err := d.Steps(tmpDir, func(command string) string {
		return settings.Expand(command, lookup)
	})
	if err != nil {
		return result, wrap(KindStep, d.Filename, "invalid install command", err)
	}

	commands := make([]string, 0, len(steps))
	for _, step := range steps {
		commands = append(commands, step.Command)
	}
	result.CommandLine = run.CommandLine(tmpDir, commands)
	internal.Log.Noticef(`%s Executing install command: "%s"`, d.logPrefix(), result.CommandLine)

	err = run.Steps(d.runner(), steps)
	if err != nil {
		return result, wrap(KindStep, d.Filename, "error running install commands", err)
	}

	return result, nil
}

// Provision downloads then installs the driver.
func (d *Driver) Provision() (InstallResult, error) {
	if err := d.Download(); err != nil {
		return InstallResult{}, err
	}

	return d.Install()
}

func archiveRoots(entries []string) mapset.Set[string] {
	roots := mare.Map(entries, func(entry string) string {
		root, _, _ := strings.Cut(entry, "/")
		return root
	})

	return internal.SetFromList(roots)
}
