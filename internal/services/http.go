package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/audioarchitect/internal/shared"
)

// request describes one JSON call against a platform API.
type request struct {
	platform string
	op       string
	method   string
	url      string
	header   http.Header
	body     any
}

// do sends req and decodes a 2xx JSON response into result (which may be nil).
//
// Non-2xx responses and transport failures become a [shared.PlatformError].
func do(ctx context.Context, client *http.Client, req request, result any) error {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &shared.PlatformError{
			Platform: req.platform,
			Op:       req.op,
			Message:  err.Error(),
			Err:      shared.ErrTransient,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := shared.NewPlatformError(req.platform, req.op, resp.StatusCode, errorMessage(resp.Body))
		perr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return perr
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage pulls a human readable message from the common error envelopes.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var envelope struct {
		Detail string `json:"detail"`
		Error  any    `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return string(bytes.TrimSpace(data))
	}
	if envelope.Detail != "" {
		return envelope.Detail
	}
	switch e := envelope.Error.(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
