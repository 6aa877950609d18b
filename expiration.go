package heytomcache

import "time"

// Expiration describes when a cache entry stops being served.
//
// At most one absolute form is meaningful: At (a wall-clock deadline) wins
// over In (a duration resolved against store time). Sliding may be combined
// with either; the entry then starts with whichever deadline comes first.
// In the near tier a read or Refresh re-arms the sliding window without
// ever exceeding the remaining absolute budget. In the far tier only
// Refresh re-arms it, resetting the TTL to the full sliding window; the far
// tier does not store the absolute deadline, so a refreshed far entry can
// outlive it.
//
// The zero value means "use the configured default expiration".
type Expiration struct {
	At      time.Time
	In      time.Duration
	Sliding time.Duration
}

// ExpireAt returns an absolute wall-clock expiration.
func ExpireAt(t time.Time) Expiration { return Expiration{At: t} }

// ExpireIn returns an absolute expiration relative to store time.
func ExpireIn(d time.Duration) Expiration { return Expiration{In: d} }

// SlidingExpiration returns a sliding expiration re-armed on each read.
func SlidingExpiration(d time.Duration) Expiration { return Expiration{Sliding: d} }

// resolve turns the option into concrete durations at store time.
// absolute is the remaining absolute budget (0 = unbounded by an absolute
// deadline), sliding the sliding window (0 = none). An Expiration that sets
// neither resolves to def as an absolute duration.
func (e Expiration) resolve(now time.Time, def time.Duration) (absolute, sliding time.Duration, err error) {
	switch {
	case !e.At.IsZero():
		if !e.At.After(now) {
			return 0, 0, invalidArg("absolute expiration is in the past")
		}
		absolute = e.At.Sub(now)
	case e.In != 0:
		if e.In < 0 {
			return 0, 0, invalidArg("negative expiration duration")
		}
		absolute = e.In
	}
	if e.Sliding < 0 {
		return 0, 0, invalidArg("negative sliding duration")
	}
	sliding = e.Sliding
	if absolute == 0 && sliding == 0 {
		absolute = def
	}
	return absolute, sliding, nil
}

// initialTTL is the effective TTL written to the far tier:
// min(absolute remaining, sliding), skipping unset parts.
func initialTTL(absolute, sliding time.Duration) time.Duration {
	switch {
	case absolute == 0:
		return sliding
	case sliding == 0:
		return absolute
	case sliding < absolute:
		return sliding
	default:
		return absolute
	}
}
