package helpers

import "time"

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x <= 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

func IntMillisecondDefault(x int, def time.Duration) time.Duration {
	if x <= 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}

// StopTimer is nil-safe and reports whether t was pending.
func StopTimer(t *time.Timer) bool {
	if t == nil {
		return false
	}
	return t.Stop()
}
