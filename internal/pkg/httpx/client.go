// Package httpx is a small helper around net/http for the
// server-to-server calls made by the pipeline. Every call carries an
// explicit timeout; a timed-out call counts as a failure for fan-out
// and retry purposes, but does not undo anything the remote side may
// already have committed.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Result is the outcome of one outbound request.
type Result struct {
	OK         bool
	StatusCode int
	Body       []byte
	Message    string
}

// PostJSON sends a JSON body and reads the response within the given
// timeout. Transport failures are reported through Result.Message with
// OK=false rather than as an error; callers treat them uniformly with
// non-2xx responses.
func PostJSON(ctx context.Context, url string, payload interface{}, timeout time.Duration) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return Result{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Message:    string(respBody),
	}
}

// Get issues a GET with the given query parameters within the
// timeout, with the same Result semantics as PostJSON.
func Get(ctx context.Context, endpoint string, values url.Values, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if len(values) > 0 {
		endpoint = endpoint + "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Message: err.Error()}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return Result{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Message:    string(respBody),
	}
}

// PostForm sends a URL-encoded form within the given timeout, with
// the same Result semantics as PostJSON.
func PostForm(ctx context.Context, endpoint string, values url.Values, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return Result{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return Result{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Message:    string(respBody),
	}
}
