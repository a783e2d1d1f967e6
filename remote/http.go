package remote

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/femnad/drup/internal"
)

const (
	userAgentKey = "user-agent"
)

var (
	okStatuses = []int{http.StatusOK}
)

// StatusError is returned when a response has a status other than the accepted ones.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("error reading response, got status %d from URL %s", e.StatusCode, e.URL)
}

// TransportError wraps failures while issuing the request or reading the response body.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error requesting URL %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Response struct {
	Body io.ReadCloser
	URL  string
}

// transportReader reports failures reading a response body as transport errors.
type transportReader struct {
	io.Reader
	url string
}

func (r transportReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err != nil && err != io.EOF {
		return n, &TransportError{URL: r.url, Err: err}
	}
	return n, err
}

type Client struct {
	HTTPClient *http.Client
	UserAgent  string
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	return http.DefaultClient
}

func (c Client) ReadResponseBody(url string) (Response, error) {
	var response Response
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return response, &TransportError{URL: url, Err: err}
	}
	if c.UserAgent != "" {
		req.Header.Set(userAgentKey, c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return response, &TransportError{URL: url, Err: err}
	}

	statusCode := resp.StatusCode
	if !internal.Contains(okStatuses, statusCode) {
		_ = resp.Body.Close()
		return response, &StatusError{StatusCode: statusCode, URL: url}
	}

	response = Response{Body: resp.Body, URL: url}

	return response, nil
}

// writeAtomic writes body to a sibling temp file first so that target never holds a partial download.
func writeAtomic(body io.Reader, target string) (err error) {
	dir, base := filepath.Split(target)
	out, err := os.CreateTemp(dir, fmt.Sprintf(".%s-*", base))
	if err != nil {
		return err
	}
	tmpPath := out.Name()
	defer func() {
		if err != nil {
			err = errors.Join(err, internal.EnsureFileAbsent(tmpPath))
		}
	}()

	_, err = io.Copy(out, body)
	if err != nil {
		_ = out.Close()
		return err
	}

	err = out.Close()
	if err != nil {
		return err
	}

	err = os.Chmod(tmpPath, 0o644)
	if err != nil {
		return err
	}

	return os.Rename(tmpPath, target)
}

// Download fetches url and writes the response body to target, creating target's dir if needed.
func (c Client) Download(url, target string) error {
	if url == "" {
		return fmt.Errorf("download URL is empty")
	}
	if target == "" {
		return fmt.Errorf("download target is empty")
	}

	resp, err := c.ReadResponseBody(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dir, _ := filepath.Split(target)
	if dir != "" {
		if err = internal.EnsureDirExists(dir); err != nil {
			return err
		}
	}

	return writeAtomic(transportReader{Reader: resp.Body, url: url}, target)
}
