package entity

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"github.com/femnad/mare"
)

const (
	DefaultDownloadDir = "./drivers"
)

// Driver is a downloadable driver archive along with the commands that install it once unpacked.
type Driver struct {
	URL      string   `yaml:"url"`
	Filename string   `yaml:"filename"`
	Dir      string   `yaml:"dir"`
	Path     string   `yaml:"path"`
	Commands []string `yaml:"commands,omitempty"`
}

// NewDriver resolves the absolute download dir and archive path for a driver. It doesn't create anything.
func NewDriver(driverURL, filename string, commands []string, dir string) (Driver, error) {
	var d Driver
	if driverURL == "" {
		return d, fmt.Errorf("no URL given for driver %s", filename)
	}
	if filename == "" {
		return d, fmt.Errorf("no filename given for driver %s", driverURL)
	}

	if dir == "" {
		dir = DefaultDownloadDir
	}
	absDir, err := filepath.Abs(mare.ExpandUser(dir))
	if err != nil {
		return d, err
	}

	return Driver{
		URL:      driverURL,
		Filename: filename,
		Dir:      absDir,
		Path:     filepath.Join(absDir, filename),
		Commands: commands,
	}, nil
}

func (d Driver) String() string {
	return d.Filename
}

// Name is the filename's last element, usable in temp dir patterns.
func (d Driver) Name() string {
	return filepath.Base(d.Filename)
}

// Steps parses each install command into a step running under dir, after passing it through expand.
func (d Driver) Steps(dir string, expand func(string) string) ([]Step, error) {
	var steps []Step
	for _, command := range d.Commands {
		if expand != nil {
			command = expand(command)
		}
		step, err := ParseStep(command, dir)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// FilenameFromURL returns the last element of the URL's path.
func FilenameFromURL(driverURL string) (string, error) {
	parsed, err := url.Parse(driverURL)
	if err != nil {
		return "", err
	}

	_, filename := path.Split(parsed.Path)
	if filename == "" {
		return "", fmt.Errorf("unable to determine filename from URL %s", driverURL)
	}

	return filename, nil
}
