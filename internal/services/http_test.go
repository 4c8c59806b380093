package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/audioarchitect/internal/shared"
	tu "github.com/desertthunder/audioarchitect/internal/testing"
)

func cannedResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	req := request{platform: "spotify", op: "get playlist", method: http.MethodGet, url: "https://api.example.test/playlists/p1"}

	t.Run("transport failure is transient", func(t *testing.T) {
		client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection reset by peer"))}

		err := do(ctx, client, req, nil)
		if !errors.Is(err, shared.ErrTransient) {
			t.Fatalf("expected transient error, got %v", err)
		}
		var perr *shared.PlatformError
		if !errors.As(err, &perr) || perr.Op != "get playlist" || !strings.Contains(perr.Message, "connection reset") {
			t.Errorf("unexpected platform error %+v", perr)
		}
	})

	t.Run("cancelled context wins over transport error", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("dial failed"))}

		if err := do(cctx, client, req, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("error statuses", func(t *testing.T) {
		tests := []struct {
			name    string
			resp    *http.Response
			kind    error
			message string
			retry   time.Duration
		}{
			{
				name:    "rate limited with retry-after",
				resp:    cannedResponse(http.StatusTooManyRequests, `{"error":{"status":429,"message":"slow down"}}`, http.Header{"Retry-After": {"7"}}),
				kind:    shared.ErrTransient,
				message: "slow down",
				retry:   7 * time.Second,
			},
			{
				name:    "server error",
				resp:    cannedResponse(http.StatusBadGateway, "upstream unavailable", nil),
				kind:    shared.ErrTransient,
				message: "upstream unavailable",
			},
			{
				name:    "detail envelope",
				resp:    cannedResponse(http.StatusNotFound, `{"detail":"no such playlist"}`, nil),
				kind:    shared.ErrPermanent,
				message: "no such playlist",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				client := &http.Client{Transport: tu.NewMockRoundTripper(tt.resp, nil)}

				err := do(ctx, client, req, nil)
				if !errors.Is(err, tt.kind) {
					t.Fatalf("expected %v, got %v", tt.kind, err)
				}
				var perr *shared.PlatformError
				if !errors.As(err, &perr) {
					t.Fatalf("expected platform error, got %T", err)
				}
				if perr.StatusCode != tt.resp.StatusCode || perr.Message != tt.message || perr.RetryAfter != tt.retry {
					t.Errorf("unexpected platform error %+v", perr)
				}
			})
		}
	})

	t.Run("decodes success body", func(t *testing.T) {
		client := &http.Client{Transport: tu.NewMockRoundTripper(cannedResponse(http.StatusOK, `{"id":"p1","name":"Mix"}`, nil), nil)}

		var got struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := do(ctx, client, req, &got); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != "p1" || got.Name != "Mix" {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("no content leaves result untouched", func(t *testing.T) {
		client := &http.Client{Transport: tu.NewMockRoundTripper(cannedResponse(http.StatusNoContent, "", nil), nil)}

		got := map[string]string{"kept": "yes"}
		if err := do(ctx, client, req, &got); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got["kept"] != "yes" {
			t.Errorf("result was modified: %v", got)
		}
	})
}
