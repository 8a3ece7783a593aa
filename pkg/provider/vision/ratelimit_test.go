package vision_test

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

func TestRetryAfterFromHeader(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{name: "nil", header: nil, want: 0},
		{name: "empty", header: http.Header{}, want: 0},
		{name: "retry-after-ms", header: http.Header{"Retry-After-Ms": {"1500"}}, want: 1500 * time.Millisecond},
		{name: "retry-after seconds", header: http.Header{"Retry-After": {"12"}}, want: 12 * time.Second},
		{name: "retry-after date", header: http.Header{"Retry-After": {now.Add(30 * time.Second).Format(http.TimeFormat)}}, want: 30 * time.Second},
		{name: "reset unix", header: http.Header{"X-Ratelimit-Reset": {strconv.FormatInt(now.Add(45*time.Second).Unix(), 10)}}, want: 45 * time.Second},
		{name: "reset delta", header: http.Header{"X-Ratelimit-Reset": {"7"}}, want: 7 * time.Second},
		{name: "openai duration", header: http.Header{"X-Ratelimit-Reset-Requests": {"6m0s"}}, want: 6 * time.Minute},
		{name: "garbage", header: http.Header{"Retry-After": {"soon"}}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := vision.RetryAfterFromHeader(tt.header, now); got != tt.want {
				t.Errorf("RetryAfterFromHeader() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsRateLimit(t *testing.T) {
	t.Parallel()

	base := &vision.RateLimitError{RetryAfter: 5 * time.Second}
	wrapped := fmt.Errorf("fallback: %w", base)

	rl, ok := vision.AsRateLimit(wrapped)
	if !ok {
		t.Fatal("AsRateLimit(wrapped) = false, want true")
	}
	if rl.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", rl.RetryAfter)
	}
	if _, ok := vision.AsRateLimit(errors.New("boom")); ok {
		t.Error("AsRateLimit(plain) = true, want false")
	}
}
