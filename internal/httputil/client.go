package httputil

import (
	"context"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 60 * time.Second

	// SDMX endpoints negotiate the message format from Accept.
	GenericDataAccept = "application/vnd.sdmx.genericdata+xml;version=2.1, application/xml;q=0.9"
	UserAgent         = "permitcast/1.0"
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// NewRequest builds a GET request carrying the headers statistical endpoints expect.
func NewRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", GenericDataAccept)
	req.Header.Set("User-Agent", UserAgent)
	return req, nil
}
