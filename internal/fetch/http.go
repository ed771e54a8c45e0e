package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/security"
)

// HTTPBackend fetches labs from <baseURL>/<name>/<resource>.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a backend for a remote labs root.
func NewHTTPBackend(baseURL string, timeout time.Duration, allowPrivate bool) (*HTTPBackend, error) {
	if err := security.CheckEndpoint(baseURL, allowPrivate); err != nil {
		return nil, fmt.Errorf("labs base_url: %w", err)
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// ReadResource GETs one lab file.
func (b *HTTPBackend) ReadResource(ctx context.Context, lab, resource string) (string, error) {
	target := b.baseURL + "/" + url.PathEscape(lab) + "/" + resource

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &labkit.FetchError{Lab: lab, Resource: resource, Err: err}
	}
	req.Header.Set("Accept", "text/plain, text/markdown, */*")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", &labkit.FetchError{Lab: lab, Resource: resource, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return "", &labkit.NotFoundError{Lab: lab, Resource: resource}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &labkit.FetchError{
			Lab:        lab,
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize+1))
	if err != nil {
		return "", &labkit.FetchError{Lab: lab, Resource: resource, Err: err}
	}
	if len(data) > maxResourceSize {
		return "", tooLarge(lab, resource)
	}
	return string(data), nil
}
