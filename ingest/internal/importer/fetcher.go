package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrFileTooLarge = errors.New("import file too large")
	ErrBadURL       = errors.New("file url must be http or https")
)

// StatusError is a non-2xx response from the file host.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("file host responded %d", e.StatusCode)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// File is a downloaded import file.
type File struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads import files with bounded retries.
type Fetcher struct {
	httpClient *http.Client
	retries    int
	maxBytes   int64
	baseDelay  time.Duration
}

func NewFetcher(timeout time.Duration, retries int, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		maxBytes:   maxBytes,
		baseDelay:  time.Second,
	}
}

// Fetch GETs rawURL. Network errors, 429 and 5xx are retried with
// exponential backoff (1s, 2s, 4s...); other failures return at once.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrBadURL
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(f.baseDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		file, err := f.get(ctx, u.String())
		if err == nil {
			return file, nil
		}
		lastErr = err

		var se *StatusError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrFileTooLarge):
			return nil, err
		case errors.As(err, &se) && !se.retryable():
			return nil, err
		}
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", f.retries+1, lastErr)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, application/json, application/x-ndjson, */*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, ErrFileTooLarge
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, ErrFileTooLarge
	}

	return &File{
		Data:        data,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
	}, nil
}
