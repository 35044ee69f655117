package hue

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Transport performs the four bridge verbs against a full URL and returns
// the raw response body.
type Transport interface {
	Get(ctx context.Context, url string) (string, error)
	Put(ctx context.Context, url, body string) (string, error)
	Post(ctx context.Context, url, body string) (string, error)
	Delete(ctx context.Context, url string) (string, error)
}

// HTTPTransport is the net/http Transport used against a real bridge.
type HTTPTransport struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPTransport creates a transport. rps limits requests per second;
// zero disables limiting.
func NewHTTPTransport(timeout time.Duration, rps float64) *HTTPTransport {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// Bridges serve a self-signed certificate
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	t := &HTTPTransport{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return t
}

func (t *HTTPTransport) Get(ctx context.Context, url string) (string, error) {
	return t.do(ctx, http.MethodGet, url, "")
}

func (t *HTTPTransport) Put(ctx context.Context, url, body string) (string, error) {
	return t.do(ctx, http.MethodPut, url, body)
}

func (t *HTTPTransport) Post(ctx context.Context, url, body string) (string, error) {
	return t.do(ctx, http.MethodPost, url, body)
}

func (t *HTTPTransport) Delete(ctx context.Context, url string) (string, error) {
	return t.do(ctx, http.MethodDelete, url, "")
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) do(ctx context.Context, method, url, body string) (string, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to %s %s: %w", method, redactURL(url), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s %s: unexpected status %d", method, redactURL(url), resp.StatusCode)
	}

	log.Debug().Str("method", method).Str("url", redactURL(url)).Int("bytes", len(data)).Msg("Bridge request")
	return string(data), nil
}

// redactURL hides the username segment of /api/<username>/... URLs.
func redactURL(url string) string {
	idx := strings.Index(url, "/api/")
	if idx < 0 {
		return url
	}
	rest := url[idx+len("/api/"):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return url[:idx] + "/api/***"
	}
	return url[:idx] + "/api/***" + rest[slash:]
}

// apiURL builds http(s)://<host>/api/<username>/<path>.
func apiURL(address, username string, useHTTPS bool, path string) string {
	scheme := "http"
	if useHTTPS {
		scheme = "https"
	}
	if username == "" && path == "" {
		return fmt.Sprintf("%s://%s/api", scheme, address)
	}
	if path == "" {
		return fmt.Sprintf("%s://%s/api/%s", scheme, address, username)
	}
	return fmt.Sprintf("%s://%s/api/%s/%s", scheme, address, username, path)
}
