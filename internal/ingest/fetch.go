package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/permitcast/internal/httputil"
	"github.com/lox/permitcast/internal/metrics"
)

const maxErrorBody = 512

// FetchResult describes one retrieved document.
type FetchResult struct {
	URL        string
	Scheme     string // "http", "ftp" or "file"
	HTTPStatus int
	Body       []byte
}

// StatusError is returned for a non-200 HTTP response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// Fetcher retrieves statistical documents over HTTP(S), anonymous or
// authenticated FTP, or from the local filesystem.
type Fetcher struct {
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: httputil.NewClient(),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

// Fetch dispatches on the location's scheme. Anything without a recognised
// scheme is treated as a file path.
func (f *Fetcher) Fetch(ctx context.Context, location string) (*FetchResult, error) {
	scheme := schemeOf(location)
	start := time.Now()

	var res *FetchResult
	var err error
	switch scheme {
	case "http":
		res, err = f.fetchHTTP(ctx, location)
	case "ftp":
		res, err = f.fetchFTP(ctx, location)
	default:
		res, err = f.fetchFile(location)
	}

	metrics.FetchLatency.WithLabelValues(scheme).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FetchCallsTotal.WithLabelValues(scheme, status).Inc()

	if res != nil {
		res.Scheme = scheme
	}
	return res, err
}

func schemeOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return "file"
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return "http"
	case "ftp":
		return "ftp"
	default:
		return "file"
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) (*FetchResult, error) {
	res := &FetchResult{URL: location}

	operation := func() error {
		req, err := httputil.NewRequest(ctx, location)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch: %w", err)
		}
		defer resp.Body.Close()

		res.HTTPStatus = resp.StatusCode
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			statusErr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if retryable(resp.StatusCode) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		res.Body = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(f.newBackOff(), ctx)); err != nil {
		return res, err
	}
	return res, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (f *Fetcher) fetchFTP(ctx context.Context, location string) (*FetchResult, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse ftp url: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", u.Path, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &FetchResult{URL: location, Body: body}, nil
}

func (f *Fetcher) fetchFile(location string) (*FetchResult, error) {
	path := strings.TrimPrefix(location, "file://")
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return &FetchResult{URL: location, Body: body}, nil
}
