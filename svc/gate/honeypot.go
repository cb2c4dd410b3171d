package gate

import (
	"strconv"
	"strings"
	"time"

	"checkpost/pkg/domain"
)

// CheckHoneypot applies form-level bot signals. The honeypot field is
// invisible to humans, so any non-whitespace value marks automation. The
// issue timestamp (unix seconds, decimal string) brackets plausible
// human fill time; a malformed or absent timestamp is ignored rather
// than rejected, since older cached forms legitimately omit it.
func CheckHoneypot(honeypot, issuedAt string, minFill, maxAge time.Duration, now time.Time) error {
	if strings.TrimSpace(honeypot) != "" {
		return domain.ErrBotDetected
	}
	ts := strings.TrimSpace(issuedAt)
	if ts == "" {
		return nil
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil
	}
	elapsed := now.Sub(time.Unix(sec, 0))
	if elapsed < minFill {
		return domain.ErrSubmittedTooFast
	}
	if elapsed > maxAge {
		return domain.ErrFormExpired
	}
	return nil
}
