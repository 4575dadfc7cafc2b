package util

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

const maxBackoffShift = 32

func GetIDFromString(str *string) string {
	hasher := sha1.New()
	hasher.Write([]byte(*str))

	return hex.EncodeToString(hasher.Sum(nil))
}

// Backoff returns base doubled per attempt (base for attempt 1), capped at
// max. Shift overflow also caps at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	d := base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}

	return d
}
