package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Source reads a file by its slash-separated path, relative to the data root.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// HTTPSource serves files from a static data host.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
	max    int64
}

// NewHTTPSource returns a Source rooted at baseURL. client nil =>
// http.DefaultClient. maxBytes <= 0 disables the response size limit.
func NewHTTPSource(baseURL string, client *http.Client, maxBytes int64) (*HTTPSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch: base url %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: u, client: client, max: maxBytes}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, p string) ([]byte, error) {
	u := *s.base
	u.Path = path.Join("/", s.base.Path, p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var r io.Reader = resp.Body
	if s.max > 0 {
		r = io.LimitReader(resp.Body, s.max+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if s.max > 0 && int64(len(b)) > s.max {
		return nil, ErrTooLarge
	}
	return b, nil
}

// FSSource serves files from an fs.FS, typically os.DirFS over a local
// mirror of the data host.
type FSSource struct {
	FS fs.FS
}

func (s FSSource) Fetch(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := fs.ReadFile(s.FS, strings.TrimPrefix(path.Clean("/"+p), "/"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}
