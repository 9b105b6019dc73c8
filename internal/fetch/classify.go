package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// streamErrorMarkers identify HTTP/2 transport-level failures that warrant an
// immediate downgrade to HTTP/1.1 against the same URL. The stdlib wraps
// http2 errors, so substring matching on the canonical error texts is the
// practical classifier here.
var streamErrorMarkers = []string{
	"stream error",
	"http2: server sent goaway",
	"protocol_error",
	"internal_error",
	"refused_stream",
	"enhance_your_calm",
}

// isStreamError reports whether err is an HTTP/2 transport failure eligible
// for protocol downgrade.
func isStreamError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range streamErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyNetErr converts a transport error into the typed taxonomy.
func classifyNetErr(op string, err error) *ingest.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return ingest.NewError(ingest.KindCancelled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return ingest.NewError(ingest.KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ingest.NewError(ingest.KindTimeout, op, err)
	}
	return ingest.NewError(ingest.KindConnectionFailed, op, err)
}

// parseRetryAfter interprets a Retry-After header value as a delay. It
// supports both delta-seconds and HTTP-date forms; ok is false when the
// header is absent or unparseable.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		delay := at.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}
