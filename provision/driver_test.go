package provision

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/femnad/drup/entity"
	"github.com/femnad/drup/run"
	"github.com/femnad/drup/settings"
)

type recordingRunner struct {
	failOn string
	steps  []entity.Step
}

func (r *recordingRunner) Run(step entity.Step) error {
	r.steps = append(r.steps, step)
	if step.Command == r.failOn {
		return &run.ExitError{Code: 1, Err: errors.New("failed")}
	}
	return nil
}

func (r *recordingRunner) commands() []string {
	var commands []string
	for _, step := range r.steps {
		commands = append(commands, step.Command)
	}
	return commands
}

type fixture struct {
	driver   *Driver
	runner   *recordingRunner
	requests *atomic.Int32
	tempRoot string
}

func newFixture(t *testing.T, status int, body []byte, commands ...string) fixture {
	t.Helper()
	requests := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	root := t.TempDir()
	d, err := entity.NewDriver(server.URL+"/foo.zip", "foo.zip", commands, filepath.Join(root, "drivers"))
	require.NoError(t, err)

	tempRoot := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(tempRoot, 0o755))

	runner := &recordingRunner{}
	driver := NewDriver(d, settings.Settings{TempRoot: tempRoot})
	driver.Runner = runner

	return fixture{driver: driver, runner: runner, requests: requests, tempRoot: tempRoot}
}

func TestDownloadWritesBody(t *testing.T) {
	body := []byte("PK\x03\x04 some driver bytes")
	f := newFixture(t, http.StatusOK, body)

	require.NoError(t, f.driver.Download())

	content, err := os.ReadFile(f.driver.Path)
	require.NoError(t, err)
	assert.Equal(t, body, content)
	assert.Equal(t, int32(1), f.requests.Load())
}

func TestDownloadSkipsExistingFile(t *testing.T) {
	f := newFixture(t, http.StatusOK, []byte("new content"))
	writeTestFile(t, f.driver.Path, []byte("existing content"))

	require.NoError(t, f.driver.Download())

	content, err := os.ReadFile(f.driver.Path)
	require.NoError(t, err)
	assert.Equal(t, "existing content", string(content))
	assert.Equal(t, int32(0), f.requests.Load())
}

func TestDownloadNonOKStatus(t *testing.T) {
	f := newFixture(t, http.StatusNotFound, []byte("not found"))

	err := f.driver.Download()

	require.ErrorIs(t, err, ErrStatus)
	var driverErr *Error
	require.True(t, errors.As(err, &driverErr))
	assert.Equal(t, urlHint, driverErr.Hint())
	assert.Contains(t, err.Error(), "[driver][foo.zip]")
	assert.NoFileExists(t, f.driver.Path)
	assert.DirExists(t, f.driver.Dir)
}

func TestDownloadTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL + "/foo.zip"
	server.Close()

	d, err := entity.NewDriver(url, "foo.zip", nil, filepath.Join(t.TempDir(), "drivers"))
	require.NoError(t, err)

	err = NewDriver(d, settings.Settings{}).Download()

	assert.ErrorIs(t, err, ErrTransport)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindTransport, kind)
	assert.NoFileExists(t, d.Path)
}

func TestInstallExtractsAndRunsCommands(t *testing.T) {
	f := newFixture(t, http.StatusOK, zipArchive(t, driverSources), "echo a", "echo b")
	require.NoError(t, f.driver.Download())

	result, err := f.driver.Install()
	require.NoError(t, err)

	assert.Equal(t, f.tempRoot, filepath.Dir(result.Dir))
	assert.True(t, strings.HasSuffix(filepath.Base(result.Dir), "-foo.zip-driver"), result.Dir)
	assert.Equal(t, wantSources(), regularFiles(t, result.Dir))
	assert.Equal(t, []string{"driver-1.0"}, result.Roots.ToSlice())
	assert.Len(t, result.Entries, 3)

	assert.Equal(t, "cd "+result.Dir+" && echo a && echo b", result.CommandLine)
	assert.Equal(t, []string{"echo a", "echo b"}, f.runner.commands())
	for _, step := range f.runner.steps {
		assert.Equal(t, result.Dir, step.Dir)
	}
}

func TestInstallUsesFreshDirEachTime(t *testing.T) {
	f := newFixture(t, http.StatusOK, zipArchive(t, driverSources), "make")
	require.NoError(t, f.driver.Download())

	first, err := f.driver.Install()
	require.NoError(t, err)
	second, err := f.driver.Install()
	require.NoError(t, err)

	assert.NotEqual(t, first.Dir, second.Dir)
	assert.DirExists(t, first.Dir, "extraction dirs are not cleaned up")
	assert.Len(t, dirNames(t, f.tempRoot), 2)
}

func TestInstallWithoutArchive(t *testing.T) {
	f := newFixture(t, http.StatusOK, nil, "make")

	_, err := f.driver.Install()

	assert.ErrorIs(t, err, ErrMissingArchive)
	assert.Empty(t, dirNames(t, f.tempRoot))
	assert.Empty(t, f.runner.steps)
}

func TestInstallStopsAtFailingCommand(t *testing.T) {
	f := newFixture(t, http.StatusOK, zipArchive(t, driverSources), "make", "make install", "depmod -a")
	f.runner.failOn = "make install"
	require.NoError(t, f.driver.Download())

	_, err := f.driver.Install()

	assert.ErrorIs(t, err, ErrStep)
	var stepErr *run.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, []string{"make", "make install"}, f.runner.commands())
}

func TestInstallBadArchive(t *testing.T) {
	f := newFixture(t, http.StatusOK, []byte("<html>not a driver</html>"), "make")
	require.NoError(t, f.driver.Download())

	_, err := f.driver.Install()

	assert.ErrorIs(t, err, ErrExtract)
	assert.Empty(t, f.runner.steps)
}

func TestInstallExpandsCommands(t *testing.T) {
	f := newFixture(t, http.StatusOK, zipArchive(t, driverSources), "make -C ${extract_dir}/driver-1.0", "cp ${download_dir}/${filename} /opt")
	require.NoError(t, f.driver.Download())

	result, err := f.driver.Install()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"make -C " + result.Dir + "/driver-1.0",
		"cp " + f.driver.Path + " /opt",
	}, f.runner.commands())
}

func TestProvisionWithStreamRunner(t *testing.T) {
	f := newFixture(t, http.StatusOK, zipArchive(t, driverSources), "test -x driver-1.0/install.sh", "touch built")
	f.driver.Runner = run.StreamRunner{}

	result, err := f.driver.Provision()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(result.Dir, "built"))
	assert.Equal(t, int32(1), f.requests.Load())
}

func TestProvisionChangesIntoExtractedDir(t *testing.T) {
	f := newFixture(t, http.StatusOK, zipArchive(t, driverSources), "cd driver-1.0", "touch marker")
	f.driver.Runner = run.StreamRunner{}

	result, err := f.driver.Provision()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(result.Dir, "driver-1.0", "marker"))
	assert.NoFileExists(t, filepath.Join(result.Dir, "marker"))
}

func TestDownloadTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("short"))
	}))
	t.Cleanup(server.Close)

	d, err := entity.NewDriver(server.URL+"/foo.zip", "foo.zip", nil, filepath.Join(t.TempDir(), "drivers"))
	require.NoError(t, err)

	err = NewDriver(d, settings.Settings{}).Download()

	assert.ErrorIs(t, err, ErrTransport)
	assert.NoFileExists(t, d.Path)
}
