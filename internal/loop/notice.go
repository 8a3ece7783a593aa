package loop

import (
	"fmt"
	"time"
)

// NoticeKind classifies a user-visible [Notice].
type NoticeKind string

const (
	NoticeError        NoticeKind = "error"
	NoticeRateLimited  NoticeKind = "rate_limited"
	NoticeLimitReached NoticeKind = "limit_reached"
)

// Notice is the single most recent problem shown to the viewer. A new notice
// replaces the previous one; notices never stack.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`

	// RetryAfter is the backend's reset hint for rate-limit notices.
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

func errorNotice(at time.Time) *Notice {
	return &Notice{
		Kind:    NoticeError,
		Message: "Lost the thread for a second. Still watching.",
		At:      at,
	}
}

func rateLimitNotice(at time.Time, retryAfter time.Duration) *Notice {
	msg := "Too many roasts too fast. Backing off for a bit."
	if retryAfter > 0 {
		msg = fmt.Sprintf("Too many roasts too fast. Next one in %s.", retryAfter.Round(time.Second))
	}
	return &Notice{
		Kind:       NoticeRateLimited,
		Message:    msg,
		At:         at,
		RetryAfter: retryAfter,
	}
}

func limitNotice(at time.Time, budget time.Duration) *Notice {
	return &Notice{
		Kind:    NoticeLimitReached,
		Message: fmt.Sprintf("Session limit of %s reached. Restart adroast to keep roasting.", budget),
		At:      at,
	}
}
