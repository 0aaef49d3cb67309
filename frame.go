package oidcstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// FrameLoaderFunc adapts a function to FrameLoader.
type FrameLoaderFunc func(ctx context.Context, url string) error

func (f FrameLoaderFunc) Load(ctx context.Context, url string) error {
	return f(ctx, url)
}

// HTTPFrameLoader loads a URL with a GET request. Like a hidden frame it
// treats any response as loaded, whatever the status code.
type HTTPFrameLoader struct {
	client *http.Client
}

var _ FrameLoader = &HTTPFrameLoader{}

// NewHTTPFrameLoader uses client, or http.DefaultClient when nil.
func NewHTTPFrameLoader(client *http.Client) *HTTPFrameLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFrameLoader{client: client}
}

// Load fetches url and drains the body. It returns when ctx is done.
func (l *HTTPFrameLoader) Load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("frame request: %w", err)
	}

	res, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("frame load: %w", err)
	}
	defer res.Body.Close()

	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
