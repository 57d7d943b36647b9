package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/urbanrisk/internal/httputil"
)

// FetchResult carries transport details of one fetch for the ingest audit.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
}

// Source produces raw feed documents.
type Source interface {
	// Kind is a short transport name used as the metrics and audit label.
	Kind() string
	// Endpoint identifies the feed without credentials.
	Endpoint() string
	Fetch(ctx context.Context) ([]byte, *FetchResult, error)
}

// NewSource picks a transport from the location's scheme: http(s), ftp, or
// a local path (bare or file://).
func NewSource(location string) (Source, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse feed location %q: %w", location, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPSource(location), nil
	case "ftp":
		return NewFTPSource(u), nil
	case "", "file":
		path := location
		if u.Scheme == "file" {
			path = u.Path
		}
		return FileSource{Path: path}, nil
	}
	return nil, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
}

type HTTPSource struct {
	url        string
	client     *http.Client
	maxElapsed time.Duration
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:        url,
		client:     httputil.NewClient(),
		maxElapsed: 2 * time.Minute,
	}
}

func (h *HTTPSource) Kind() string { return "http" }

func (h *HTTPSource) Endpoint() string {
	if u, err := url.Parse(h.url); err == nil {
		return u.Redacted()
	}
	return h.url
}

// Fetch retries rate limiting, auth rejections and server errors with
// exponential backoff. Other failures are permanent.
func (h *HTTPSource) Fetch(ctx context.Context) ([]byte, *FetchResult, error) {
	result := &FetchResult{}
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch feed: %w", err)
		}
		defer resp.Body.Close()
		result.HTTPStatus = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode >= 500:
			return fmt.Errorf("fetch feed: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch feed: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = h.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, result, err
	}
	result.ResponseSize = len(body)
	return body, result, nil
}

// FTPSource retrieves a single file, logging in anonymously unless the URL
// carries credentials.
type FTPSource struct {
	addr     string
	user     string
	password string
	path     string
	timeout  time.Duration
}

func NewFTPSource(u *url.URL) *FTPSource {
	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}
	src := &FTPSource{
		addr:     addr,
		user:     "anonymous",
		password: "anonymous",
		path:     u.Path,
		timeout:  30 * time.Second,
	}
	if u.User != nil {
		src.user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			src.password = pw
		}
	}
	return src
}

func (f *FTPSource) Kind() string { return "ftp" }

func (f *FTPSource) Endpoint() string {
	return "ftp://" + f.addr + f.path
}

func (f *FTPSource) Fetch(ctx context.Context) ([]byte, *FetchResult, error) {
	conn, err := ftp.Dial(f.addr, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(f.user, f.password); err != nil {
		return nil, nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return body, &FetchResult{ResponseSize: len(body)}, nil
}

// FileSource reads a feed document from disk.
type FileSource struct {
	Path string
}

func (f FileSource) Kind() string { return "file" }

func (f FileSource) Endpoint() string { return f.Path }

func (f FileSource) Fetch(ctx context.Context) ([]byte, *FetchResult, error) {
	body, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("read feed file: %w", err)
	}
	return body, &FetchResult{ResponseSize: len(body)}, nil
}
